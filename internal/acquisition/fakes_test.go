package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"transformer_monitor/internal/models"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// ---- manual scheduler with virtual time ----

type fakeTask struct {
	s       *fakeScheduler
	due     time.Duration
	period  time.Duration // zero for one-shot
	f       func()
	stopped bool
}

func (t *fakeTask) Stop() {
	t.s.mu.Lock()
	t.stopped = true
	t.s.mu.Unlock()
}

type fakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*fakeTask
}

func (s *fakeScheduler) add(d, period time.Duration, f func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTask{s: s, due: s.now + d, period: period, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Task { return s.add(d, 0, f) }

func (s *fakeScheduler) Every(d time.Duration, f func()) Task { return s.add(d, d, f) }

// active returns the number of live one-shot and recurring tasks.
func (s *fakeScheduler) active() (oneShot, recurring int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.stopped {
			continue
		}
		if t.period > 0 {
			recurring++
		} else {
			oneShot++
		}
	}
	return oneShot, recurring
}

func (s *fakeScheduler) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) clock() time.Time { return epoch.Add(s.elapsed()) }

// advance moves virtual time by d, firing due tasks in order and calling settle after each.
func (s *fakeScheduler) advance(d time.Duration, settle func()) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var next *fakeTask
		for _, t := range s.tasks {
			if t.stopped || t.due > target {
				continue
			}
			if next == nil || t.due < next.due {
				next = t
			}
		}
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.due
		if next.period > 0 {
			next.due += next.period
		} else {
			next.stopped = true
		}
		f := next.f
		s.mu.Unlock()

		f()
		settle()
	}
}

// ---- push handles ----

var errAlreadyClosed = errors.New("use of closed network connection")

type fakeHandle struct {
	attempt uint64
	at      time.Duration
	emit    func(PushEvent)

	mu            sync.Mutex
	connects      int
	live          bool
	disconnects   int
	disconnectErr error
}

func (h *fakeHandle) Connect(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connects > 0 {
		return
	}
	h.connects++
	h.live = true
}

func (h *fakeHandle) Disconnect() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	if !h.live {
		return errAlreadyClosed
	}
	h.live = false
	return h.disconnectErr
}

func (h *fakeHandle) isLive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

func (h *fakeHandle) opened() { h.emit(PushEvent{Kind: PushOpened}) }

func (h *fakeHandle) message(s models.Signals) { h.emit(PushEvent{Kind: PushMessage, Signals: s}) }

func (h *fakeHandle) failed(err error) { h.emit(PushEvent{Kind: PushError, Err: err}) }

func (h *fakeHandle) closed(err error) {
	h.mu.Lock()
	h.live = false
	h.mu.Unlock()
	h.emit(PushEvent{Kind: PushClosed, Err: err})
}

type fakeDialer struct {
	sched *fakeScheduler

	mu      sync.Mutex
	handles []*fakeHandle
}

func (d *fakeDialer) factory(attempt uint64, emit func(PushEvent)) PushHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &fakeHandle{attempt: attempt, at: d.sched.elapsed(), emit: emit}
	d.handles = append(d.handles, h)
	return h
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

func (d *fakeDialer) handle(i int) *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[i]
}

func (d *fakeDialer) last() *fakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[len(d.handles)-1]
}

// liveConnections counts handles holding a connection resource.
func (d *fakeDialer) liveConnections() int {
	d.mu.Lock()
	handles := append([]*fakeHandle(nil), d.handles...)
	d.mu.Unlock()
	n := 0
	for _, h := range handles {
		if h.isLive() {
			n++
		}
	}
	return n
}

// ---- poll fetcher ----

type fetchResult struct {
	data  models.Signals
	err   error
	block chan struct{}
}

type fakeFetcher struct {
	mu       sync.Mutex
	calls    int
	queue    []fetchResult
	fallback fetchResult
}

func (f *fakeFetcher) push(r ...fetchResult) {
	f.mu.Lock()
	f.queue = append(f.queue, r...)
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context) (models.Signals, error) {
	f.mu.Lock()
	f.calls++
	r := f.fallback
	if len(f.queue) > 0 {
		r = f.queue[0]
		f.queue = f.queue[1:]
	}
	f.mu.Unlock()

	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.data, r.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// ---- harness ----

type recorder struct {
	ch chan Update
}

func (r *recorder) next(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-r.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for update")
		return Update{}
	}
}

// waitFor skips updates until one has the given reason.
func (r *recorder) waitFor(t *testing.T, reason string) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-r.ch:
			if u.Reason == reason {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q update", reason)
			return Update{}
		}
	}
}

type harness struct {
	t       *testing.T
	c       *Coordinator
	sched   *fakeScheduler
	dialer  *fakeDialer
	fetcher *fakeFetcher
	rec     *recorder

	cancel  context.CancelFunc
	runErr  chan error
	stopped bool
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	sched := &fakeScheduler{}
	h := &harness{
		t:       t,
		sched:   sched,
		dialer:  &fakeDialer{sched: sched},
		fetcher: &fakeFetcher{fallback: fetchResult{err: errors.New("connection refused")}},
		rec:     &recorder{ch: make(chan Update, 512)},
		runErr:  make(chan error, 1),
	}
	h.c = NewCoordinator(opts, h.dialer.factory, h.fetcher,
		WithScheduler(sched),
		WithClock(sched.clock),
	)
	h.c.Subscribe(func(u Update) { h.rec.ch <- u })

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.c.Run(ctx) }()
	t.Cleanup(h.stop)

	h.sync()
	return h
}

// sync returns once every event posted before it has been handled.
func (h *harness) sync() {
	h.t.Helper()
	require.True(h.t, h.c.call(func() {}), "coordinator stopped")
}

// inspect runs fn on the coordinator goroutine.
func (h *harness) inspect(fn func(c *Coordinator)) {
	h.t.Helper()
	require.True(h.t, h.c.call(func() { fn(h.c) }), "coordinator stopped")
}

func (h *harness) advance(d time.Duration) {
	h.sched.advance(d, h.sync)
}

func (h *harness) stop() {
	if h.stopped {
		return
	}
	h.stopped = true
	h.cancel()
	select {
	case err := <-h.runErr:
		require.NoError(h.t, err)
	case <-time.After(2 * time.Second):
		h.t.Fatalf("Run did not return after cancel")
	}
}
