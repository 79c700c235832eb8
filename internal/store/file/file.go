package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chinnucsk/bidder-gateway/internal/store"
)

const ext = ".json"

// DB implements store.Store as a directory holding one JSON document per bidder
// name (<dir>/<name>.json). Each document is written to a temp file and renamed
// into place so a crash never leaves a half-written record behind.
type DB struct {
	dir string
}

// New returns a file store rooted at dir. The directory is created by EnsureSchema.
func New(dir string) (*DB, error) {
	d := strings.TrimSpace(dir)
	if d == "" {
		return nil, errors.New("empty store directory")
	}
	return &DB{dir: filepath.Clean(d)}, nil
}

func (s *DB) EnsureSchema(_ context.Context) error {
	return os.MkdirAll(s.dir, 0o750)
}

func (s *DB) Close() error { return nil }

// Dir returns the directory holding the records.
func (s *DB) Dir() string { return s.dir }

func (s *DB) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid record name %q", name)
	}
	return filepath.Join(s.dir, name+ext), nil
}

func (s *DB) Save(_ context.Context, rec store.Record) error {
	p, err := s.path(rec.Name)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+rec.Name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *DB) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadAll reads every record in the directory. Unreadable or malformed entries
// are skipped; their errors are joined and returned alongside the records that
// did load, so one corrupt file does not hide the rest.
func (s *DB) LoadAll(_ context.Context) ([]store.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]store.Record, 0, len(entries))
	var errs []error
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, ext) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, n))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var rec store.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			errs = append(errs, fmt.Errorf("decode %s: %w", n, err))
			continue
		}
		if rec.Name == "" {
			rec.Name = strings.TrimSuffix(n, ext)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, errors.Join(errs...)
}
