package factory

import (
	"errors"
	"strings"

	"github.com/chinnucsk/bidder-gateway/internal/store"
	"github.com/chinnucsk/bidder-gateway/internal/store/file"
	pg "github.com/chinnucsk/bidder-gateway/internal/store/postgres"
	sq "github.com/chinnucsk/bidder-gateway/internal/store/sqlite"
)

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - file:     "file://<dir>" one JSON document per bidder
//   - sqlite:   "sqlite://<path>" or bare filepath (treated as sqlite)
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(dsn string) (store.Store, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	if strings.HasPrefix(ld, "postgres://") || strings.HasPrefix(ld, "postgresql://") {
		return pg.New(d)
	}
	if strings.HasPrefix(ld, "file://") {
		return file.New(d[len("file://"):])
	}
	if strings.HasPrefix(ld, "sqlite://") {
		return sq.New(d[len("sqlite://"):])
	}
	// default to sqlite path
	return sq.New(d)
}
