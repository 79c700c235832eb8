package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// TimestampLayout is the launch timestamp embedded in bidder log file names.
const TimestampLayout = "02.01.2006_15.04.05"

// maxCollisions bounds the suffix search when several launches of one name
// land in the same second.
const maxCollisions = 1000

// BidderLogs manages per-launch bidder log files under Dir:
//
//	Dir/bidder_<name>_<dd.mm.yyyy_HH.MM.SS>.log   one file per launch
//	Dir/bidder_<name>.log                         symlink to the newest file
type BidderLogs struct {
	Dir string
	Now func() time.Time // defaults to time.Now
}

// LogFile is the result of preparing a launch log.
type LogFile struct {
	Path  string // timestamped file, created empty
	Alias string // stable symlink path
	// AliasErr is set when the symlink could not be refreshed. The alias is
	// only a convenience for tailing, so callers usually just log it.
	AliasErr error
}

// AliasPath returns the stable alias for name.
func (b *BidderLogs) AliasPath(name string) string {
	return filepath.Join(b.Dir, "bidder_"+name+".log")
}

// Prepare creates a fresh, uniquely named log file for a launch of name and
// points the alias at it.
func (b *BidderLogs) Prepare(name string) (LogFile, error) {
	if name == "" {
		return LogFile{}, errors.New("empty bidder name")
	}
	if err := os.MkdirAll(b.Dir, 0o750); err != nil {
		return LogFile{}, fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	stem := "bidder_" + name + "_" + now().Format(TimestampLayout)

	var base string
	for i := 0; i < maxCollisions; i++ {
		base = stem + ".log"
		if i > 0 {
			base = stem + "-" + strconv.Itoa(i) + ".log"
		}
		f, err := os.OpenFile(filepath.Join(b.Dir, base), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return LogFile{}, fmt.Errorf("create log file: %w", err)
		}
		base = ""
	}
	if base == "" {
		return LogFile{}, fmt.Errorf("no free log file name for %s", stem)
	}

	lf := LogFile{Path: filepath.Join(b.Dir, base), Alias: b.AliasPath(name)}
	// the alias name can equal another bidder's timestamped log; only a
	// symlink is ours to replace
	if fi, err := os.Lstat(lf.Alias); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			lf.AliasErr = fmt.Errorf("%s exists and is not a symlink", lf.Alias)
			return lf, nil
		}
		if err := os.Remove(lf.Alias); err != nil && !errors.Is(err, os.ErrNotExist) {
			lf.AliasErr = err
			return lf, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		lf.AliasErr = err
		return lf, nil
	}
	// relative target keeps the alias valid if the log dir is moved
	if err := os.Symlink(base, lf.Alias); err != nil {
		lf.AliasErr = err
	}
	return lf, nil
}
