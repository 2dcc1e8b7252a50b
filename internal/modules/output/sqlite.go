package output

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/canectors/flow/internal/database"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/internal/template"
	"github.com/canectors/flow/pkg/connector"
)

// DefaultTable is the table written when the config names none.
const DefaultTable = "records"

var tableNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite stores every item of the carried value as a JSON row. All rows of a
// load are written in one transaction, retried as a whole on busy errors.
//
// Config:
//
//	path:  database file (required)
//	table: table name (default "records"); created when missing
//	key:   dotted path of a record key; rows with an existing key are replaced
//
// Table layout: id INTEGER PRIMARY KEY, record_key TEXT UNIQUE, data TEXT, loaded_at TEXT.
type SQLite struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLite returns the sqlite loader. Databases are opened on first use and
// stay open until Close.
func NewSQLite() *SQLite {
	return &SQLite{dbs: make(map[string]*sql.DB)}
}

func (*SQLite) Name() string { return "sqlite" }

func (*SQLite) Supports(config map[string]any) bool {
	_, err := parseSQLiteConfig(config)
	return err == nil
}

type sqliteConfig struct {
	path  string
	table string
	key   string
}

func parseSQLiteConfig(config map[string]any) (sqliteConfig, error) {
	var c sqliteConfig
	c.path, _ = config["path"].(string)
	if c.path != ":memory:" {
		if err := pathutil.ValidateFilePath(c.path); err != nil {
			return c, configError("sqlite", "%v", err)
		}
	}
	c.table, _ = config["table"].(string)
	if c.table == "" {
		c.table = DefaultTable
	}
	if !tableNameRegex.MatchString(c.table) {
		return c, configError("sqlite", "invalid table name %q", c.table)
	}
	c.key, _ = config["key"].(string)
	return c, nil
}

type row struct {
	key  sql.NullString
	data string
}

func (s *SQLite) Load(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	c, err := parseSQLiteConfig(config)
	if err != nil {
		return connector.Value{}, err
	}
	rows, err := buildRows(items(in), c.key)
	if err != nil {
		return connector.Value{}, fmt.Errorf("sqlite: %w", err)
	}
	db, err := s.db(ctx, c.path)
	if err != nil {
		return connector.Value{}, fmt.Errorf("sqlite: %w", err)
	}

	start := time.Now()
	tk := runtime.ToolkitFrom(ctx)
	_, err = tk.ExecuteWithRecovery(ctx, "sqlite "+c.table, func(ctx context.Context) (any, error) {
		return nil, writeRows(ctx, db, c.table, rows)
	})
	if err != nil {
		return connector.Value{}, fmt.Errorf("sqlite: %w", err)
	}

	logger.Debug("sqlite load completed",
		slog.String("path", c.path),
		slog.String("table", c.table),
		slog.Int("rows", len(rows)),
		slog.Duration("duration", time.Since(start)),
	)
	return summary(len(rows)), nil
}

func buildRows(values []any, keyPath string) ([]row, error) {
	rows := make([]row, 0, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		r := row{data: string(data)}
		if keyPath != "" {
			if m, ok := v.(map[string]any); ok {
				if k, ok := pathutil.Get(m, keyPath); ok && k != nil {
					r.key = sql.NullString{String: template.ValueToString(k), Valid: true}
				}
			}
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func writeRows(ctx context.Context, db *sql.DB, table string, rows []row) (err error) {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_key TEXT UNIQUE,
		data TEXT NOT NULL,
		loaded_at TEXT NOT NULL
	)`, table)
	insert := fmt.Sprintf(`INSERT INTO %q (record_key, data, loaded_at) VALUES (?, ?, ?)
		ON CONFLICT(record_key) DO UPDATE SET data = excluded.data, loaded_at = excluded.loaded_at`, table)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return database.Classify(err, "begin", "")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, create); err != nil {
		return database.Classify(err, "create", create)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return database.Classify(err, "prepare", insert)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.key, r.data, now); err != nil {
			return database.Classify(err, "insert", insert)
		}
	}
	if err = tx.Commit(); err != nil {
		return database.Classify(err, "commit", "")
	}
	return nil
}

func (s *SQLite) db(ctx context.Context, path string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[path]; ok {
		return db, nil
	}
	db, err := database.Open(ctx, database.Config{Path: path})
	if err != nil {
		return nil, err
	}
	s.dbs[path] = db
	return db, nil
}

// Close closes every database opened by the loader.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for path, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", path, err))
		}
		delete(s.dbs, path)
	}
	return errors.Join(errs...)
}
