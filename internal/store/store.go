package store

import (
	"context"
	"encoding/json"
	"time"
)

// Record is the durable form of a supervised bidder.
// Records are keyed by Name; PID is a field, never a key.
type Record struct {
	Name        string            `json:"name"`
	Executable  string            `json:"executable"`
	Params      map[string]string `json:"params"`
	Config      json.RawMessage   `json:"config,omitempty"`
	PID         int               `json:"pid"`
	ExternalRef string            `json:"external_ref"`
	LogPath     string            `json:"log_path"`
	StartUnix   int64             `json:"start_unix,omitempty"` // process start time, used to detect pid reuse
	StartedAt   time.Time         `json:"started_at"`
}

// Store persists one record per bidder name across supervisor restarts.
// Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Save inserts or replaces the record for rec.Name.
	Save(ctx context.Context, rec Record) error
	// Delete removes the record for name. Deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
	// LoadAll returns every stored record ordered by name.
	LoadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// EncodeParams serializes params for column-oriented backends.
func EncodeParams(p map[string]string) (string, error) {
	if p == nil {
		p = map[string]string{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeParams is the inverse of EncodeParams. Empty input yields an empty map.
func DecodeParams(s string) (map[string]string, error) {
	out := map[string]string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}
