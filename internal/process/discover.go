package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"time"
)

const (
	DefaultDiscoverTimeout  = time.Second
	DefaultDiscoverInterval = 50 * time.Millisecond

	// lines longer than this cannot be a pid announcement and are dropped
	maxLineBytes = 64 << 10
)

var pidLine = regexp.MustCompile(`^pid:(\d+)\s*$`)

// ParsePIDLine extracts the pid from a "pid:<n>" line.
func ParsePIDLine(line []byte) (int, bool) {
	m := pidLine.FindSubmatch(bytes.TrimRight(line, "\r"))
	if m == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(m[1]))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// DiscoverPID polls the log at path every interval until a "pid:<n>" line
// shows up or timeout elapses. An unterminated last line is only considered
// once the deadline is reached.
func DiscoverPID(ctx context.Context, path string, timeout, interval time.Duration) (int, error) {
	return discoverPID(ctx, path, timeout, interval, nil)
}

// discoverPID is DiscoverPID with an optional channel closed when the child
// exits, which ends the wait early.
func discoverPID(ctx context.Context, path string, timeout, interval time.Duration, exited <-chan struct{}) (int, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	if interval <= 0 {
		interval = DefaultDiscoverInterval
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrPidNotFound, path, err)
	}
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sc := &lineScanner{r: f}
	for {
		pid, ok, err := sc.next(false)
		if err != nil {
			return 0, fmt.Errorf("%w: read %s: %v", ErrPidNotFound, path, err)
		}
		if ok {
			return pid, nil
		}
		select {
		case <-ticker.C:
		case <-exited:
			// the child is gone; whatever it wrote is already in the file
			if pid, ok, _ := sc.next(true); ok {
				return pid, nil
			}
			return 0, fmt.Errorf("%w: process exited before reporting a pid", ErrPidNotFound)
		case <-ctx.Done():
			if pid, ok, _ := sc.next(true); ok {
				return pid, nil
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w: no pid line in %s after %s", ErrPidNotFound, path, timeout)
			}
			return 0, fmt.Errorf("%w: %v", ErrPidNotFound, ctx.Err())
		}
	}
}

// lineScanner reads whatever has been appended to r since the last call and
// matches complete lines against the pid pattern.
type lineScanner struct {
	r   io.Reader
	buf []byte
}

func (s *lineScanner) next(final bool) (int, bool, error) {
	chunk := make([]byte, 4096)
	for {
		n, err := s.r.Read(chunk)
		s.buf = append(s.buf, chunk[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, false, err
		}
		if err != nil || n == 0 {
			break
		}
	}
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := s.buf[:i]
		s.buf = s.buf[i+1:]
		if pid, ok := ParsePIDLine(line); ok {
			return pid, true, nil
		}
	}
	if len(s.buf) > maxLineBytes {
		s.buf = s.buf[:0]
	}
	if final && len(s.buf) > 0 {
		pid, ok := ParsePIDLine(s.buf)
		return pid, ok, nil
	}
	return 0, false, nil
}
