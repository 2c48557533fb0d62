package database

import (
	"os"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ethscriptions-protocol/indexer/config"
)

// ConnectAndInitializeTestDB opens a scratch MySQL database, dropping and
// re-migrating every table first, for use from indexer integration tests.
// It reads connection parameters from TEST_DB_* environment variables,
// falling back to sane local defaults, mirroring the teacher's own
// test-database bootstrap.
func ConnectAndInitializeTestDB() (*gorm.DB, error) {
	cfg := config.DBConfig{
		Host:             envOr("TEST_DB_HOST", "127.0.0.1"),
		Port:             3306,
		Database:         envOr("TEST_DB_NAME", "ethscriptions_test"),
		Username:         envOr("TEST_DB_USER", "root"),
		Password:         envOr("TEST_DB_PASSWORD", ""),
		DropTableAtStart: true,
	}

	db, err := ConnectAndInitialize(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "database: connect test db")
	}

	return db, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
