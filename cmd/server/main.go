package main

import (
	"flag"
	"log"

	"fleetdesk/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
	flag.Parse()

	if err := appbootstrap.Run(*configPath); err != nil {
		log.Fatalf("fleetdesk: %v", err)
	}
}
