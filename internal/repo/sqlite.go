package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seedrelay/model"
)

// autoMigrateAll migrates all database models.
func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Task{},
		&model.Artifact{},
		&model.JobRun{},
		&model.Settings{},
	)
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations. Pass ":memory:" for an ephemeral database.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection to ":memory:" is its own empty database;
		// a single connection keeps the schema shared across goroutines.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// WAL and a busy timeout keep concurrent job/handler transactions from
	// tripping over SQLITE_BUSY.
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA foreign_keys = ON")

	if err := autoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
