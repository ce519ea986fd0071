package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres" // PostgreSQL dialect
	_ "github.com/lib/pq"                        // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"              // SQLite driver

	"maitred/internal/models"
)

// Options configures the connection pool
type Options struct {
	Driver          string
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogMode         bool
}

// Open connects to the database and configures the pool. In-memory SQLite
// databases are pinned to a single connection so every query sees the same
// schema.
func Open(opts Options) (*gorm.DB, error) {
	if opts.Driver == "" {
		opts.Driver = "sqlite3"
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.LogMode(opts.LogMode)

	sqlDB := db.DB()
	if opts.Driver == "sqlite3" && isMemory(opts.DSN) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := sqlDB.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service uses
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.RestaurantTable{},
		&models.TableSession{},
		&models.MenuItem{},
		&models.ModifierGroup{},
		&models.Modifier{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderItemModifier{},
		&models.KitchenTask{},
		&models.Payment{},
	).Error
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file:") && strings.Contains(dsn, "mode=memory")
}
