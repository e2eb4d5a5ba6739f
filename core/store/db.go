package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"fleetdesk/config"
	"fleetdesk/core/utils"
)

// NewDB opens the configured database. Production deployments run on postgres
// through the pgx stdlib driver; the go test runtime uses an on-disk sqlite
// database addressed by cfg.DBPath.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if strings.TrimSpace(cfg.DBPath) != "" {
		driver = "sqlite"
	}
	switch driver {
	case "", "postgres", "pgx":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		if logger != nil {
			logger.Printf("connected to postgres")
		}
		return db, nil
	case "sqlite", "sqlite3":
		dsn := cfg.DBPath
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
