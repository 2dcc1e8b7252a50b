// Package database opens SQLite databases for the sqlite loader and classifies
// driver errors for the retry policy.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"github.com/canectors/flow/internal/logger"
)

// DriverSQLite is the database/sql driver name of go-sqlite3.
const DriverSQLite = "sqlite3"

// Default connection values
const (
	DefaultBusyTimeout    = 5 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Config configures a SQLite connection.
type Config struct {
	// Path of the database file; ":memory:" opens a private in-memory database
	Path string
	// BusyTimeout is how long a writer waits on a locked database
	BusyTimeout time.Duration
	// MaxOpenConns bounds the pool; SQLite serializes writers anyway
	MaxOpenConns int
}

// DSN returns the go-sqlite3 data source name for c.
func (c Config) DSN() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	q.Set("_foreign_keys", "on")
	if c.Path != ":memory:" {
		q.Set("_journal_mode", "WAL")
	}
	return "file:" + c.Path + "?" + q.Encode()
}

// Open opens and pings the database described by c.
func Open(ctx context.Context, c Config) (*sql.DB, error) {
	if c.Path == "" {
		return nil, NewConnectionError("database path is required", nil)
	}
	db, err := sql.Open(DriverSQLite, c.DSN())
	if err != nil {
		return nil, NewConnectionError("opening database", err)
	}
	maxOpen := c.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Classify(err, "connect", "")
	}

	logger.Debug("database opened",
		slog.String("driver", DriverSQLite),
		slog.String("path", c.Path),
	)
	return db, nil
}
