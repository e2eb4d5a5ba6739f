package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads YAML config from path when it exists, then applies env overrides.
// A missing file is not an error; env-only deployments are supported.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
