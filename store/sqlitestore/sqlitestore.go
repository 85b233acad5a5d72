// Package sqlitestore implements store.Store on a SQLite file so that
// processes on one host can share it.
//
// Every write stamps the row with the writer's origin id and the next
// value of a database-wide sequence. Deletes leave a tombstone row so
// watchers see them. Watch polls for rows with a sequence above the last
// one seen and skips the watcher's own writes.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/moffa90/go-qbmidi/store"
)

const driverName = "sqlite"

// DefaultPollInterval is how often Watch checks for changes.
const DefaultPollInterval = 250 * time.Millisecond

//go:embed schema.sql
var schemaSQL string

// dsn builds a modernc.org/sqlite DSN from a path and pragma key-value
// pairs. Each pair is formatted as _pragma=key(value) in the query string.
func dsn(path string, pragmas [][2]string) string {
	s := path
	for i, p := range pragmas {
		if i == 0 {
			s += "?"
		} else {
			s += "&"
		}
		s += "_pragma=" + p[0] + "(" + p[1] + ")"
	}
	return s
}

// Store is a store.Store on SQLite.
type Store struct {
	db           *sql.DB
	origin       string
	pollInterval time.Duration
	logger       zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often Watch checks for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New opens or creates the database at dbPath.
func New(ctx context.Context, dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"busy_timeout", "5000"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:           db,
		origin:       uuid.NewString(),
		pollInterval: DefaultPollInterval,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "sqlitestore").Str("db", dbPath).Logger()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s.logger.Debug().Msg("opened database")
	return s, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ? AND deleted = 0`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, deleted, origin, seq)
		VALUES (?, ?, 0, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM kv))
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			deleted = 0,
			origin = excluded.origin,
			seq = excluded.seq`,
		key, value, s.origin)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE kv SET
			value = NULL,
			deleted = 1,
			origin = ?,
			seq = (SELECT MAX(seq) + 1 FROM kv)
		WHERE key = ? AND deleted = 0`,
		s.origin, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) lastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM kv`).Scan(&seq)
	return seq, err
}

// changesSince returns the rows written by other origins after seq, and
// the highest sequence seen.
func (s *Store) changesSince(ctx context.Context, seq int64) ([]store.Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, deleted, origin, seq FROM kv WHERE seq > ? ORDER BY seq`, seq)
	if err != nil {
		return nil, seq, err
	}
	defer rows.Close()

	var changes []store.Change
	for rows.Next() {
		var (
			c       store.Change
			deleted int
			origin  string
			rowSeq  int64
		)
		if err := rows.Scan(&c.Key, &c.Value, &deleted, &origin, &rowSeq); err != nil {
			return nil, seq, err
		}
		seq = rowSeq
		if origin == s.origin {
			continue
		}
		c.Deleted = deleted != 0
		changes = append(changes, c)
	}
	return changes, seq, rows.Err()
}

// Watch implements store.Store.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	seq, err := s.lastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}

	out := make(chan store.Change, 16)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			changes, next, err := s.changesSince(ctx, seq)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn().Err(err).Msg("poll changes failed")
				}
				continue
			}
			seq = next

			for _, c := range changes {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
