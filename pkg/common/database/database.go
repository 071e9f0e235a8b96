package database

import (
	"fmt"
	"time"

	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	// DriverMemory skips the relational store entirely; callers fall back to the
	// in-memory catalog.
	DriverMemory = "memory"
)

// Open connects to the relational store selected by cfg.DBDriver. The handle is
// returned to the caller rather than cached, so every service owns its lifecycle.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(logger.Log, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		logger.Log.WithError(err).WithField("driver", cfg.DBDriver).Error("Failed to connect to database")
		return nil, err
	}

	if cfg.DBDriver == DriverSQLite {
		// SQLite serialises writers; one connection avoids SQLITE_BUSY under the importer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Log.WithField("driver", cfg.DBDriver).Info("Connected to database")
	return db, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case DriverPostgres, "":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.PostgresHost,
			cfg.PostgresUser,
			cfg.PostgresPassword,
			cfg.PostgresDB,
			cfg.PostgresPort,
			cfg.PostgresSSLMode,
		)
		return postgres.Open(dsn), nil
	case DriverMySQL:
		if cfg.MySQLDSN == "" {
			return nil, fmt.Errorf("MYSQL_DSN is required for driver %q", cfg.DBDriver)
		}
		return mysql.Open(cfg.MySQLDSN), nil
	case DriverSQLite:
		return sqlite.Open(SQLiteDSN(cfg.SQLitePath)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// SQLiteDSN enables foreign key enforcement, which SQLite leaves off by default.
func SQLiteDSN(path string) string {
	return path + "?_foreign_keys=on&_busy_timeout=5000"
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
