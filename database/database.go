// Package database holds the GORM entities, connection/migration wiring,
// and small per-entity query helpers the indexer materializes state
// through.
package database

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ethscriptions-protocol/indexer/config"
)

var allEntities = []interface{}{
	&Inscription{},
	&Transfer{},
	&Collection{},
	&CollectionItem{},
	&FixedDenominationToken{},
	&BondingCurveToken{},
	&TokenNote{},
	&Checkpoint{},
}

// Connect opens a MySQL connection per cfg without touching schema.
func Connect(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)

	logLevel := gormlogger.Silent
	if cfg.LogQueries {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "database: connect")
	}

	return db, nil
}

// ConnectAndInitialize connects and runs AutoMigrate for every entity,
// matching the teacher's "open then migrate in one call" wiring used from
// main.go.
func ConnectAndInitialize(cfg config.DBConfig) (*gorm.DB, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DropTableAtStart {
		if err := db.Migrator().DropTable(allEntities...); err != nil {
			return nil, errors.Wrap(err, "database: drop tables at start")
		}
	}

	if err := db.AutoMigrate(allEntities...); err != nil {
		return nil, errors.Wrap(err, "database: auto-migrate")
	}

	if err := tuneConnectionPool(db); err != nil {
		return nil, err
	}

	return db, nil
}

// tuneConnectionPool sets the underlying *sql.DB's connection lifetime
// knobs, kept small since the indexer's write pattern is low-concurrency (a
// single mutation thread per §5).
func tuneConnectionPool(db *gorm.DB) error {
	sql, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "database: underlying sql.DB")
	}

	sql.SetConnMaxLifetime(time.Hour)
	sql.SetMaxOpenConns(10)
	sql.SetMaxIdleConns(5)

	return nil
}
