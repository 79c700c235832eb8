// Package process spawns bidder executables and discovers the pid they
// report on their first output line.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chinnucsk/bidder-gateway/internal/detector"
)

// Launcher starts bidders under ExecRoot. The zero value is not usable; set
// at least ExecRoot and ConfigDir.
type Launcher struct {
	ExecRoot  string
	ConfigDir string // relative paths resolve against ExecRoot

	Prober           detector.Prober // defaults to detector.ProcProber
	DiscoverTimeout  time.Duration
	DiscoverInterval time.Duration
	Logger           *slog.Logger
}

// ConfigPath returns the config file written for name.
func (l *Launcher) ConfigPath(name string) string {
	dir := l.ConfigDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(l.ExecRoot, dir)
	}
	return filepath.Join(dir, name+".conf.json")
}

// Launch writes the bidder config, spawns the executable detached from the
// gateway with output appended to spec.LogPath, and waits for it to report
// its pid. A bidder that never reports a pid is left running.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (int, error) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("bidder", spec.Name)

	cfgPath := l.ConfigPath(spec.Name)
	if err := writeConfig(cfgPath, spec.Config); err != nil {
		return 0, err
	}
	exe, err := resolveExecutable(l.ExecRoot, spec.Executable)
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(spec.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("%w: open log %s: %v", ErrSpawnFailed, spec.LogPath, err)
	}
	// #nosec G204 -- executable is confined to the exec root
	cmd := exec.Command(exe, BuildArgs(spec.Params, cfgPath)...)
	cmd.Dir = l.ExecRoot
	cmd.Stdout = out
	cmd.Stderr = out
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		_ = out.Close()
		return 0, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, exe, err)
	}
	// the child holds its own descriptor
	_ = out.Close()
	childPID := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	log.Debug("spawned bidder", "exe", exe, "child_pid", childPID, "log", spec.LogPath)

	pid, err := discoverPID(ctx, spec.LogPath, l.DiscoverTimeout, l.DiscoverInterval, exited)
	if err != nil {
		select {
		case <-exited:
		default:
			log.Warn("bidder did not report a pid; leaving it running", "child_pid", childPID, "error", err)
		}
		return 0, err
	}

	prober := l.Prober
	if prober == nil {
		prober = detector.ProcProber{}
	}
	if !prober.IsAlive(pid) {
		return 0, fmt.Errorf("%w: pid %d", ErrProcessAbortedImmediately, pid)
	}
	return pid, nil
}

func writeConfig(path string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	if err := os.WriteFile(path, payload, 0o640); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigWriteFailed, err)
	}
	return nil
}
