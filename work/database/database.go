package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"kptv-player/work/logger"
)

// DB wraps the sql.DB with additional functionality
type DB struct {
	*sql.DB
	logger *logger.Logger
}

// Open creates a new database connection with optimized settings for WAL mode
func Open(path string, log *logger.Logger) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open with optimized pragmas
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	wrapper := &DB{
		DB:     db,
		logger: log,
	}

	if err := wrapper.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}

	if log != nil {
		log.Info("{database - open} SQLite database opened successfully with WAL mode")
	}

	return wrapper, nil
}

// createSchema creates the tables if they do not exist yet
func (db *DB) createSchema() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			base_url TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			preferred_path TEXT NOT NULL DEFAULT 'direct',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_used_at TIMESTAMP,
			UNIQUE(base_url, username)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.logger != nil {
		db.logger.Info("{database - close} Closing database connection")
	}
	return db.DB.Close()
}

// Vacuum optimizes the database file
func (db *DB) Vacuum() error {
	if db.logger != nil {
		db.logger.Info("{database - vacuum} Running VACUUM to optimize database")
	}
	_, err := db.Exec("VACUUM")
	return err
}
