package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "workorders.db"

type Config struct {
	// Path of the database file. Defaults to ./data/workorders.db.
	Path string
}

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join("data", defaultDBName)
}

// Open opens the SQLite database with foreign keys on, WAL journaling and a busy timeout.
// SQLite allows a single writer, so the pool is capped at one connection; callers must
// not touch the *sql.DB while holding a transaction from it.
func Open(cfg Config) (*sql.DB, error) {
	path := dbPath(cfg)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the effective database path.
func Path(cfg Config) string {
	return dbPath(cfg)
}
