// Package manager keeps the set of running bidders and drives launch, stop
// and status checks for them.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/chinnucsk/bidder-gateway/internal/detector"
	"github.com/chinnucsk/bidder-gateway/internal/history"
	"github.com/chinnucsk/bidder-gateway/internal/logger"
	"github.com/chinnucsk/bidder-gateway/internal/metrics"
	"github.com/chinnucsk/bidder-gateway/internal/process"
	"github.com/chinnucsk/bidder-gateway/internal/store"
)

const defaultHistoryTimeout = 2 * time.Second

// Launcher spawns a bidder and returns the pid it reported.
type Launcher interface {
	Launch(ctx context.Context, spec process.Spec) (int, error)
}

// LogPaths hands out a fresh log file per launch.
type LogPaths interface {
	Prepare(name string) (logger.LogFile, error)
}

// SignalFunc delivers a signal to a pid.
type SignalFunc func(pid int, sig syscall.Signal) error

// Options wires a Registry. Launcher, Logs and Store are required.
type Options struct {
	Launcher Launcher
	Logs     LogPaths
	Store    store.Store
	Prober   detector.Prober // default detector.ProcProber
	Signal   SignalFunc      // default process.Signal
	History  []history.Sink
	Logger   *slog.Logger
	Now      func() time.Time

	HistoryTimeout time.Duration // per sink send
}

// StartRequest is the caller's input to Start.
type StartRequest struct {
	Name       string
	Executable string
	Params     map[string]string
	Config     json.RawMessage
}

// busyOp marks a name whose launch or store write is still in flight.
type busyOp int

const (
	opStart  busyOp = iota + 1 // launch, then Save
	opDelete                   // Delete after Stop or a detected abort
)

// Registry maps bidder names to their records. One mutex guards the map;
// spawning, pid discovery and store writes run outside it. A name stays in
// busy until its store write returns, so durable writes for one name land in
// the same order as the map changes.
type Registry struct {
	launcher Launcher
	logs     LogPaths
	st       store.Store
	prober   detector.Prober
	signal   SignalFunc
	sinks    []history.Sink
	log      *slog.Logger
	now      func() time.Time
	histTO   time.Duration

	mu      sync.Mutex
	idle    *sync.Cond // signaled when a name leaves busy
	workers map[string]store.Record
	busy    map[string]busyOp
}

func New(opts Options) (*Registry, error) {
	if opts.Launcher == nil || opts.Logs == nil || opts.Store == nil {
		return nil, errors.New("manager: launcher, logs and store are required")
	}
	r := &Registry{
		launcher: opts.Launcher,
		logs:     opts.Logs,
		st:       opts.Store,
		prober:   opts.Prober,
		signal:   opts.Signal,
		sinks:    append([]history.Sink(nil), opts.History...),
		log:      opts.Logger,
		now:      opts.Now,
		histTO:   opts.HistoryTimeout,
		workers:  make(map[string]store.Record),
		busy:     make(map[string]busyOp),
	}
	r.idle = sync.NewCond(&r.mu)
	if r.prober == nil {
		r.prober = detector.ProcProber{}
	}
	if r.signal == nil {
		r.signal = process.Signal
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.histTO <= 0 {
		r.histTO = defaultHistoryTimeout
	}
	return r, nil
}

// Start launches a bidder under req.Name. The first concurrent caller for a
// name wins; others get ErrAlreadyRunning without touching disk. A Start
// arriving while a Stop or abort is still deleting the name's record waits
// for the delete first.
//
// On ErrPersistFailed the bidder is running and registered, and the returned
// record is valid.
func (r *Registry) Start(ctx context.Context, req StartRequest) (store.Record, error) {
	if !ValidName(req.Name) {
		return store.Record{}, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
	}
	// a spawned bidder cannot be taken back, so the caller going away must
	// not cut discovery or persistence short
	ctx = context.WithoutCancel(ctx)
	log := r.log.With("bidder", req.Name)

	r.mu.Lock()
	for r.busy[req.Name] == opDelete {
		r.idle.Wait()
	}
	_, running := r.workers[req.Name]
	if running || r.busy[req.Name] == opStart {
		r.mu.Unlock()
		metrics.IncStart("already_running")
		return store.Record{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, req.Name)
	}
	r.busy[req.Name] = opStart
	r.mu.Unlock()
	defer r.release(req.Name)

	rec, err := r.launch(ctx, req, log)
	if err != nil {
		metrics.IncStart(startResult(err))
		log.Error("bidder start failed", "exe", req.Executable, "error", err)
		return store.Record{}, err
	}

	r.mu.Lock()
	r.workers[req.Name] = rec
	n := len(r.workers)
	r.mu.Unlock()

	metrics.SetRegistered(n)
	r.emit(history.Event{Type: history.EventStart, OccurredAt: r.now().UTC(), Record: rec})

	if err := r.st.Save(ctx, rec); err != nil {
		metrics.IncStart("persist_failed")
		log.Error("bidder started but record not saved", "pid", rec.PID, "error", err)
		return rec, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	metrics.IncStart("ok")
	log.Info("bidder started", "pid", rec.PID, "ref", rec.ExternalRef, "log", rec.LogPath)
	return rec, nil
}

// release clears name's busy mark and wakes waiters.
func (r *Registry) release(name string) {
	r.mu.Lock()
	delete(r.busy, name)
	r.mu.Unlock()
	r.idle.Broadcast()
}

// awaitSaved blocks while a registered name's Save is still running.
// Callers hold r.mu.
func (r *Registry) awaitSaved(name string) {
	for {
		_, registered := r.workers[name]
		if !registered || r.busy[name] != opStart {
			return
		}
		r.idle.Wait()
	}
}

func (r *Registry) launch(ctx context.Context, req StartRequest, log *slog.Logger) (store.Record, error) {
	lf, err := r.logs.Prepare(req.Name)
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: prepare log: %v", process.ErrSpawnFailed, err)
	}
	if lf.AliasErr != nil {
		log.Warn("could not refresh log alias", "alias", lf.Alias, "error", lf.AliasErr)
	}

	began := time.Now()
	pid, err := r.launcher.Launch(ctx, process.Spec{
		Name:       req.Name,
		Executable: req.Executable,
		Params:     req.Params,
		Config:     req.Config,
		LogPath:    lf.Path,
	})
	if err != nil {
		return store.Record{}, err
	}
	metrics.ObservePIDDiscovery(time.Since(began).Seconds())

	var startUnix int64
	if st, ok := r.prober.(detector.StartTimer); ok {
		startUnix = st.StartUnix(pid)
	}
	return store.Record{
		Name:        req.Name,
		Executable:  req.Executable,
		Params:      req.Params,
		Config:      req.Config,
		PID:         pid,
		ExternalRef: ExternalRef(req.Name, pid),
		LogPath:     lf.Path,
		StartUnix:   startUnix,
		StartedAt:   r.now().UTC(),
	}, nil
}

// ExternalRef is the key the config service uses for a bidder instance.
func ExternalRef(name string, pid int) string {
	return name + strconv.Itoa(pid)
}

// Stop signals the bidder and unregisters it. sig 0 means
// process.DefaultStopSignal. When signaling fails the bidder stays
// registered. A failure to delete the durable record is reported as
// ErrPersistFailed after the bidder has already been unregistered.
func (r *Registry) Stop(ctx context.Context, name string, sig syscall.Signal) error {
	if sig == 0 {
		sig = process.DefaultStopSignal
	}
	log := r.log.With("bidder", name)

	r.mu.Lock()
	r.awaitSaved(name)
	rec, ok := r.workers[name]
	if !ok {
		r.mu.Unlock()
		metrics.IncStop("not_running")
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	if r.pidReused(rec) {
		r.mu.Unlock()
		metrics.IncStop("signal_failed")
		return fmt.Errorf("%w: pid %d now belongs to another process", ErrSignalFailed, rec.PID)
	}
	if err := r.signal(rec.PID, sig); err != nil {
		r.mu.Unlock()
		metrics.IncStop("signal_failed")
		log.Warn("signal failed", "pid", rec.PID, "signal", int(sig), "error", err)
		return fmt.Errorf("%w: pid %d: %v", ErrSignalFailed, rec.PID, err)
	}
	delete(r.workers, name)
	r.busy[name] = opDelete
	n := len(r.workers)
	r.mu.Unlock()
	defer r.release(name)

	metrics.SetRegistered(n)
	r.emit(history.Event{Type: history.EventStop, OccurredAt: r.now().UTC(), Record: rec, Signal: int(sig)})
	if err := r.st.Delete(ctx, name); err != nil {
		metrics.IncStop("persist_failed")
		log.Error("bidder stopped but record not deleted", "error", err)
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	metrics.IncStop("ok")
	log.Info("bidder stopped", "pid", rec.PID, "signal", int(sig))
	return nil
}

// Status reports Up for a live registered bidder and Down for an unknown
// name. A registered bidder found dead is unregistered, its record deleted on
// a best-effort basis, and reported as Aborted.
func (r *Registry) Status(ctx context.Context, name string) State {
	r.mu.Lock()
	r.awaitSaved(name)
	rec, ok := r.workers[name]
	if !ok {
		r.mu.Unlock()
		return Down
	}
	if detector.SameProcess(r.prober, rec.PID, rec.StartUnix) {
		r.mu.Unlock()
		return Up
	}
	delete(r.workers, name)
	r.busy[name] = opDelete
	n := len(r.workers)
	r.mu.Unlock()
	defer r.release(name)

	metrics.SetRegistered(n)
	metrics.IncAbort()
	log := r.log.With("bidder", name)
	log.Warn("bidder aborted", "pid", rec.PID, "ref", rec.ExternalRef)
	if err := r.st.Delete(ctx, name); err != nil {
		log.Warn("could not delete aborted bidder record", "error", err)
	}
	r.emit(history.Event{Type: history.EventAbort, OccurredAt: r.now().UTC(), Record: rec})
	return Aborted
}

// pidReused reports whether the recorded pid is alive but started at a
// different time than the bidder we launched.
func (r *Registry) pidReused(rec store.Record) bool {
	return rec.StartUnix > 0 && r.prober.IsAlive(rec.PID) && !detector.SameProcess(r.prober, rec.PID, rec.StartUnix)
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.workers))
	for n := range r.workers {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Lookup returns the record registered under name.
func (r *Registry) Lookup(name string) (store.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.workers[name]
	return rec, ok
}

// Replay registers every stored record as-is, without checking liveness.
// Records the store could read are registered even when it also reports an
// error for others.
func (r *Registry) Replay(ctx context.Context) (int, error) {
	recs, loadErr := r.st.LoadAll(ctx)
	r.mu.Lock()
	count := 0
	for _, rec := range recs {
		if rec.Name == "" {
			continue
		}
		r.workers[rec.Name] = rec
		count++
	}
	n := len(r.workers)
	r.mu.Unlock()

	metrics.SetRegistered(n)
	if loadErr != nil {
		r.log.Warn("replay read some records with errors", "loaded", count, "error", loadErr)
		return count, fmt.Errorf("replay: %w", loadErr)
	}
	r.log.Info("replayed bidder records", "count", count)
	return count, nil
}

// emit fans e out to every history sink. Failures are logged only.
func (r *Registry) emit(e history.Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.histTO)
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink failed", "event", string(e.Type), "bidder", e.Record.Name, "error", err)
		}
		cancel()
	}
}

func startResult(err error) string {
	switch {
	case errors.Is(err, process.ErrConfigWriteFailed):
		return "config_write_failed"
	case errors.Is(err, process.ErrSpawnFailed):
		return "spawn_failed"
	case errors.Is(err, process.ErrPidNotFound):
		return "pid_not_found"
	case errors.Is(err, process.ErrProcessAbortedImmediately):
		return "aborted_immediately"
	default:
		return "error"
	}
}
