// Package sqlite provides a SQLite-backed journal backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/storage"
)

const (
	KeyPath        = "path"
	KeyJournalMode = "journal_mode"
	KeyBusyTimeout = "busy_timeout"
)

func init() {
	physical.Register("sqlite", NewFactory, Defaults)
}

// Defaults returns the default options for the SQLite backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyPath:        "~/.ocpp-node/journal.db",
		KeyJournalMode: "wal",
		KeyBusyTimeout: "5000",
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    request_id   TEXT PRIMARY KEY,
    action       TEXT NOT NULL,
    destination  TEXT NOT NULL DEFAULT '',
    sender       TEXT NOT NULL DEFAULT '',
    result       TEXT NOT NULL,
    reason       TEXT NOT NULL DEFAULT '',
    runtime_ns   INTEGER NOT NULL,
    requested_at INTEGER NOT NULL,
    completed_at INTEGER NOT NULL,
    request      BLOB,
    response     BLOB
);

CREATE INDEX IF NOT EXISTS idx_exchanges_completed ON exchanges(completed_at, request_id);
CREATE INDEX IF NOT EXISTS idx_exchanges_action ON exchanges(action, completed_at, request_id);
`

const columns = `request_id, action, destination, sender, result, reason, runtime_ns, requested_at, completed_at, request, response`

// NewFactory opens (creating if needed) the database at the path option.
func NewFactory(_ context.Context, opts storage.Options) (physical.Backend, error) {
	path, err := opts.Path(KeyPath)
	if err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to create directory", err)
		}
	}
	busyTimeout, err := opts.Int(KeyBusyTimeout)
	if err != nil {
		return nil, err
	}
	journalMode := opts.String(KeyJournalMode)
	if journalMode == "" {
		journalMode = "wal"
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(%d)", path, journalMode, busyTimeout)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, storage.NewConfigErrorWithCause("sqlite", KeyPath, "failed to initialize schema", err)
	}

	slog.Info("sqlite journal initialized", "component", "journal", "path", path, "journal_mode", journalMode)
	return &Backend{db: db}, nil
}

// Backend is a SQLite implementation of physical.Backend.
type Backend struct {
	db     *sql.DB
	closed atomic.Bool
}

func (b *Backend) Put(ctx context.Context, rec *physical.Record) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO exchanges (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Action, rec.Destination, rec.Sender, rec.Result, rec.Reason,
		int64(rec.Runtime), rec.RequestedAt.UnixNano(), rec.CompletedAt.UnixNano(),
		[]byte(rec.Request), []byte(rec.Response),
	)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, requestID string) (*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	row := b.db.QueryRowContext(ctx, `SELECT `+columns+` FROM exchanges WHERE request_id = ?`, requestID)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, physical.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return rec, nil
}

func (b *Backend) List(ctx context.Context, opts physical.ListOptions) ([]*physical.Record, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	query := `SELECT ` + columns + ` FROM exchanges`
	var args []any
	if opts.Action != "" {
		query += ` WHERE action = ?`
		args = append(args, opts.Action)
	}
	query += ` ORDER BY completed_at DESC, request_id ASC LIMIT ?`
	args = append(args, opts.EffectiveLimit())

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite list: %w", err)
	}
	defer rows.Close()

	var out []*physical.Record
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite list: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*physical.Record, error) {
	var (
		rec                           physical.Record
		runtime, requested, completed int64
		request, response             []byte
	)
	err := s.Scan(&rec.RequestID, &rec.Action, &rec.Destination, &rec.Sender, &rec.Result, &rec.Reason,
		&runtime, &requested, &completed, &request, &response)
	if err != nil {
		return nil, err
	}
	rec.Runtime = time.Duration(runtime)
	rec.RequestedAt = time.Unix(0, requested).UTC()
	rec.CompletedAt = time.Unix(0, completed).UTC()
	rec.Request = request
	rec.Response = response
	return &rec, nil
}
