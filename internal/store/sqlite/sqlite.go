package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chinnucsk/bidder-gateway/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared across calls
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bidders(
			name TEXT PRIMARY KEY,
			executable TEXT NOT NULL,
			params TEXT NOT NULL,
			config TEXT NULL,
			pid INTEGER NOT NULL,
			external_ref TEXT NOT NULL,
			log_path TEXT NOT NULL,
			start_unix INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`)
	return err
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Save(ctx context.Context, rec store.Record) error {
	params, err := store.EncodeParams(rec.Params)
	if err != nil {
		return err
	}
	var cfg any
	if len(rec.Config) > 0 {
		cfg = string(rec.Config)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bidders(name, executable, params, config, pid, external_ref, log_path, start_unix, started_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			executable=excluded.executable,
			params=excluded.params,
			config=excluded.config,
			pid=excluded.pid,
			external_ref=excluded.external_ref,
			log_path=excluded.log_path,
			start_unix=excluded.start_unix,
			started_at=excluded.started_at,
			updated_at=excluded.updated_at;`,
		rec.Name, rec.Executable, params, cfg, rec.PID, rec.ExternalRef, rec.LogPath, rec.StartUnix,
		rec.StartedAt.UTC(), time.Now().UTC())
	return err
}

func (s *DB) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bidders WHERE name=?;`, name)
	return err
}

func (s *DB) LoadAll(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, executable, params, config, pid, external_ref, log_path, start_unix, started_at
		FROM bidders
		ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var (
			r      store.Record
			params string
			cfg    sql.NullString
		)
		if err := rows.Scan(&r.Name, &r.Executable, &params, &cfg, &r.PID, &r.ExternalRef, &r.LogPath, &r.StartUnix, &r.StartedAt); err != nil {
			return nil, err
		}
		p, err := store.DecodeParams(params)
		if err != nil {
			return nil, err
		}
		r.Params = p
		if cfg.Valid {
			r.Config = json.RawMessage(cfg.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
