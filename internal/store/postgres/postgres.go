package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chinnucsk/bidder-gateway/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS bidders(
			name TEXT PRIMARY KEY,
			executable TEXT NOT NULL,
			params JSONB NOT NULL,
			config JSONB NULL,
			pid INTEGER NOT NULL,
			external_ref TEXT NOT NULL,
			log_path TEXT NOT NULL,
			start_unix BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`)
	return err
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Save(ctx context.Context, rec store.Record) error {
	params, err := store.EncodeParams(rec.Params)
	if err != nil {
		return err
	}
	var cfg any
	if len(rec.Config) > 0 {
		cfg = string(rec.Config)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO bidders(name, executable, params, config, pid, external_ref, log_path, start_unix, started_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT(name) DO UPDATE SET
			executable=EXCLUDED.executable,
			params=EXCLUDED.params,
			config=EXCLUDED.config,
			pid=EXCLUDED.pid,
			external_ref=EXCLUDED.external_ref,
			log_path=EXCLUDED.log_path,
			start_unix=EXCLUDED.start_unix,
			started_at=EXCLUDED.started_at,
			updated_at=EXCLUDED.updated_at;`,
		rec.Name, rec.Executable, params, cfg, rec.PID, rec.ExternalRef, rec.LogPath, rec.StartUnix,
		rec.StartedAt.UTC(), time.Now().UTC())
	return err
}

func (p *DB) Delete(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM bidders WHERE name=$1;`, name)
	return err
}

func (p *DB) LoadAll(ctx context.Context) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT name, executable, params::text, config::text, pid, external_ref, log_path, start_unix, started_at
		FROM bidders
		ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
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
		if r.Params, err = store.DecodeParams(params); err != nil {
			return nil, err
		}
		if cfg.Valid {
			r.Config = json.RawMessage(cfg.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
