package database

import (
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/blocklive/stagefun-sub002/internal/config"
	"github.com/blocklive/stagefun-sub002/internal/models"
)

type Option func(db *gorm.DB) error

// WithMaxOpenConns caps the number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxOpenConns(n)
		return nil
	}
}

// WithMaxIdleConns should be <= MaxOpenConns.
func WithMaxIdleConns(n int) Option {
	return func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetMaxIdleConns(n)
		return nil
	}
}

func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		sqlDB.SetConnMaxLifetime(d)
		return nil
	}
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql", "":
		return mysql.Open(cfg.DSN()), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" && cfg.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "create sqlite directory")
			}
		}
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects to the configured store and applies the pool options.
// The returned handle is owned by the caller and released with Close.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithMaxOpenConns(cfg.MaxOpenConns),
		WithMaxIdleConns(cfg.MaxIdleConns),
		WithConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second),
	}
	if cfg.Driver == "sqlite" {
		// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY under load.
		opts = append(opts, WithMaxOpenConns(1))
	}

	return OpenDialector(d, opts...)
}

func OpenDialector(d gorm.Dialector, opts ...Option) (*gorm.DB, error) {
	db, err := gorm.Open(d, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql handle")
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}

	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, errors.Wrap(err, "apply database option")
		}
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(
		&models.BlockchainEvent{},
		&models.Pool{},
		&models.TierCommitment{},
		&models.User{},
		&models.NFTHolding{},
		&models.PointTransaction{},
		&models.UserPoints{},
		&models.ReferralGrant{},
		&models.SyncRun{},
		&models.ProcessedBlock{},
	), "auto migrate")
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OpenMemory returns a migrated in-memory sqlite store. It is limited to one connection
// because every sqlite connection to :memory: gets its own database.
func OpenMemory() (*gorm.DB, error) {
	db, err := OpenDialector(sqlite.Open(":memory:"), WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
