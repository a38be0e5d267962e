package mailbox

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type dbConfig struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

// Option customises Open behaviour.
type Option func(*dbConfig)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *dbConfig) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *dbConfig) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of the database path before
// opening.
func WithMkdirAll() Option { return func(c *dbConfig) { c.mkdirAll = true } }

// Open opens the mailbox database at path with the production pragmas
// (WAL, busy_timeout, synchronous NORMAL, foreign_keys ON) and applies
// the schema. The caller must blank-import a driver registered as
// "sqlite":
//
//	import _ "modernc.org/sqlite"
func Open(path string, opts ...Option) (*Box, error) {
	cfg := dbConfig{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mailbox: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mailbox: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("mailbox: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mailbox: schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mailbox: ping: %w", err)
	}

	return New(db), nil
}

// Close releases the underlying database.
func (b *Box) Close() error {
	return b.db.Close()
}

// OpenMemory opens an in-memory mailbox for testing. MaxOpenConns is
// pinned to 1 so every query hits the same in-memory database (each
// connection to ":memory:" creates a separate one). Closed via
// t.Cleanup.
func OpenMemory(t testing.TB) *Box {
	t.Helper()
	box, err := Open(":memory:")
	if err != nil {
		t.Fatalf("mailbox.OpenMemory: %v", err)
	}
	box.db.SetMaxOpenConns(1)
	t.Cleanup(func() { box.Close() })
	return box
}
