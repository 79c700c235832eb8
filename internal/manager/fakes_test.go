package manager

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chinnucsk/bidder-gateway/internal/history"
	"github.com/chinnucsk/bidder-gateway/internal/logger"
	"github.com/chinnucsk/bidder-gateway/internal/process"
	"github.com/chinnucsk/bidder-gateway/internal/store"
	"github.com/chinnucsk/bidder-gateway/internal/store/file"
)

// fakeLauncher hands out pids from next and marks them alive in prober.
type fakeLauncher struct {
	mu     sync.Mutex
	next   int
	err    error
	delay  time.Duration
	calls  []process.Spec
	prober *fakeProber
}

func (f *fakeLauncher) Launch(_ context.Context, spec process.Spec) (int, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spec)
	if f.err != nil {
		return 0, f.err
	}
	f.next++
	pid := f.next
	f.prober.set(pid, true)
	return pid, nil
}

func (f *fakeLauncher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProber struct {
	mu     sync.Mutex
	alive  map[int]bool
	starts map[int]int64
	probes int
}

func newFakeProber() *fakeProber {
	return &fakeProber{alive: map[int]bool{}, starts: map[int]int64{}}
}

func (p *fakeProber) IsAlive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.alive[pid]
}

func (p *fakeProber) StartUnix(pid int) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts[pid]
}

func (p *fakeProber) set(pid int, alive bool) {
	p.mu.Lock()
	p.alive[pid] = alive
	p.mu.Unlock()
}

func (p *fakeProber) setStart(pid int, unix int64) {
	p.mu.Lock()
	p.starts[pid] = unix
	p.mu.Unlock()
}

func (p *fakeProber) probeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

// fakeSignals records delivered signals and kills the pid in the prober.
type fakeSignals struct {
	mu     sync.Mutex
	err    error
	sent   map[int]syscall.Signal
	prober *fakeProber
}

func (s *fakeSignals) send(pid int, sig syscall.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.sent == nil {
		s.sent = map[int]syscall.Signal{}
	}
	s.sent[pid] = sig
	s.prober.set(pid, false)
	return nil
}

// gate holds a store call until the test opens it.
type gate struct {
	entered chan struct{}
	open    chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 16), open: make(chan struct{})}
}

func (g *gate) pass() {
	if g == nil {
		return
	}
	g.entered <- struct{}{}
	<-g.open
}

// waitEntered blocks until a call is held at the gate.
func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("store call never reached the gate")
	}
}

// flakyStore wraps a store and fails or holds Save/Delete on demand.
type flakyStore struct {
	store.Store
	saveErr    error
	deleteErr  error
	loadErr    error
	extra      []store.Record
	saveGate   *gate
	deleteGate *gate
}

func (s *flakyStore) Save(ctx context.Context, rec store.Record) error {
	s.saveGate.pass()
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, rec)
}

func (s *flakyStore) Delete(ctx context.Context, name string) error {
	s.deleteGate.pass()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, name)
}

func (s *flakyStore) LoadAll(ctx context.Context) ([]store.Record, error) {
	recs, err := s.Store.LoadAll(ctx)
	recs = append(recs, s.extra...)
	if s.loadErr != nil {
		return recs, s.loadErr
	}
	return recs, err
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []history.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	reg      *Registry
	launcher *fakeLauncher
	prober   *fakeProber
	signals  *fakeSignals
	store    *flakyStore
	sink     *recordingSink
	logDir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := file.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(context.Background()))

	pr := newFakeProber()
	h := &harness{
		launcher: &fakeLauncher{next: 4241, prober: pr},
		prober:   pr,
		signals:  &fakeSignals{prober: pr},
		store:    &flakyStore{Store: db},
		sink:     &recordingSink{},
		logDir:   t.TempDir(),
	}
	h.reg, err = New(Options{
		Launcher: h.launcher,
		Logs:     &logger.BidderLogs{Dir: h.logDir},
		Store:    h.store,
		Prober:   pr,
		Signal:   h.signals.send,
		History:  []history.Sink{h.sink},
	})
	require.NoError(t, err)
	return h
}

var errBoom = errors.New("boom")
