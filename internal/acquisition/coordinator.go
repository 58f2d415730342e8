package acquisition

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/metrics"
	"transformer_monitor/internal/models"
)

// Default cadences used when Options leave them zero.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultDemoInterval   = 2 * time.Second

	eventBuffer = 64
)

// Update reasons.
const (
	ReasonPushOpen    = "push_open"
	ReasonPushMessage = "push_message"
	ReasonPushError   = "push_error"
	ReasonPushClosed  = "push_closed"
	ReasonPollData    = "poll_data"
	ReasonPollFailed  = "poll_failed"
	ReasonDemo        = "demo"
	ReasonShutdown    = "shutdown"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("acquisition: coordinator already running")

// Options tunes the coordinator. Retries are at a fixed cadence with no cap.
type Options struct {
	ReconnectDelay time.Duration
	PollInterval   time.Duration
	DemoEnabled    bool
	DemoInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.DemoInterval <= 0 {
		o.DemoInterval = DefaultDemoInterval
	}
	return o
}

// Update is one published state of the acquisition layer. Each subscriber gets its own copy.
type Update struct {
	Version    uint64                  `json:"version"`
	Reason     string                  `json:"reason"`
	Mode       models.Mode             `json:"mode"`
	Signals    models.Signals          `json:"signals"`
	Connection models.ConnectionStatus `json:"connection"`
}

func (u Update) clone() Update {
	if u.Signals != nil {
		u.Signals = u.Signals.Clone()
	}
	u.Connection = u.Connection.Clone()
	return u
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithScheduler(s Scheduler) Option { return func(c *Coordinator) { c.sched = s } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithLogger(l *logger.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithMetrics(m *metrics.Acquisition) Option { return func(c *Coordinator) { c.metrics = m } }

type eventKind int

const (
	evPush eventKind = iota + 1
	evPollTick
	evPollResult
	evReconnect
	evDemo
	// evCall runs fn on the Run goroutine; tests use it as a barrier.
	evCall
)

type event struct {
	kind eventKind
	tag  uint64
	push PushEvent
	data models.Signals
	err  error
	fn   func()
}

type subscriber struct {
	id uint64
	fn func(Update)
}

// Coordinator prefers the push channel, falls back to polling while it is down
// and reconnects it at a fixed delay. All state is owned by the goroutine in Run;
// clients and timers hand events over through a channel.
type Coordinator struct {
	opts    Options
	newPush PushFactory
	sched   Scheduler
	now     func() time.Time
	log     *logger.Logger
	metrics *metrics.Acquisition

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	mode         models.Mode
	signals      models.Signals
	conn         models.ConnectionStatus
	version      uint64
	attempt      uint64
	push         PushHandle
	reconnect    Task
	reconnectSeq uint64
	poll         *poller
	demo         Task

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64

	mu      sync.RWMutex
	current Update
}

// NewCoordinator wires a coordinator around a push factory and a poll fetcher.
func NewCoordinator(opts Options, newPush PushFactory, fetcher Fetcher, options ...Option) *Coordinator {
	c := &Coordinator{
		opts:    opts.withDefaults(),
		newPush: newPush,
		sched:   SystemScheduler{},
		now:     time.Now,
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		mode:    models.ModeConnecting,
		signals: models.Signals{},
	}
	for _, o := range options {
		o(c)
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	c.poll = &poller{fetcher: fetcher, sched: c.sched, post: c.post, log: c.log}
	c.current = Update{Mode: c.mode, Signals: models.Signals{}}
	return c
}

// Current returns the latest published state. Safe for concurrent use.
func (c *Coordinator) Current() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.clone()
}

// Subscribe registers fn for every published update, delivered in order on the
// coordinator goroutine. fn must not block. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(Update)) (cancel func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Run drives the acquisition until ctx is cancelled, then tears everything down.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.log.Infow("acquisition_started",
		"reconnect_delay", c.opts.ReconnectDelay,
		"poll_interval", c.opts.PollInterval,
		"demo", c.opts.DemoEnabled,
	)
	c.metrics.SetMode(c.mode)

	c.connectPush(ctx)
	if c.opts.DemoEnabled {
		c.startDemo()
	}

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// post hands an event to the Run goroutine. Dropped once the coordinator has shut down.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Coordinator) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evPush:
		if ev.push.Attempt != c.attempt || c.push == nil {
			c.log.Debugw("stale_push_event", "attempt", ev.push.Attempt, "current", c.attempt, "kind", ev.push.Kind.String())
			return
		}
		c.onPush(ctx, ev.push)
	case evPollTick:
		if c.poll.current(ev.tag) {
			c.poll.pull(ctx)
		}
	case evPollResult:
		if !c.poll.settle(ev.tag) {
			c.log.Debugw("stale_poll_result", "session", ev.tag)
			return
		}
		c.onPollResult(ev.data, ev.err)
	case evReconnect:
		if c.reconnect == nil || ev.tag != c.reconnectSeq {
			return
		}
		c.reconnect = nil
		c.reconnectPush(ctx)
	case evDemo:
		if c.demo != nil {
			c.mergeAndPublish(ev.data, metrics.SourceDemo, ReasonDemo)
		}
	case evCall:
		ev.fn()
	}
}

func (c *Coordinator) onPush(ctx context.Context, e PushEvent) {
	switch e.Kind {
	case PushOpened:
		c.conn.Connected = true
		c.conn.Error = ""
		c.stopPolling()
		c.cancelReconnect()
		c.setMode(models.ModeLive)
		c.publish(ReasonPushOpen)

	case PushMessage:
		if c.mode == models.ModeConnecting {
			c.setMode(models.ModeLive)
		}
		c.mergeAndPublish(e.Signals, metrics.SourcePush, ReasonPushMessage)

	case PushError:
		c.metrics.Failure(metrics.SourcePush)
		c.log.Warnw("push_error", "attempt", e.Attempt, "err", e.Err)
		c.conn.Fail(errorMessage("WebSocket error", e.Err))
		c.degrade(ctx)
		c.publish(ReasonPushError)

	case PushClosed:
		c.push = nil
		msg := ""
		if e.Err != nil {
			c.metrics.Failure(metrics.SourcePush)
			msg = errorMessage("WebSocket closed", e.Err)
		}
		c.log.Infow("push_closed", "attempt", e.Attempt, "err", e.Err)
		c.conn.Fail(msg)
		c.degrade(ctx)
		c.publish(ReasonPushClosed)
	}
}

func (c *Coordinator) onPollResult(data models.Signals, err error) {
	switch {
	case err == nil:
		c.mergeAndPublish(data, metrics.SourcePoll, ReasonPollData)
	case errors.Is(err, ErrMalformedMessage):
		c.metrics.ParseFailure(metrics.SourcePoll)
		c.log.Warnw("poll_body_dropped", "err", err)
	default:
		c.metrics.Failure(metrics.SourcePoll)
		c.log.Warnw("poll_failed", "err", err)
		c.conn.Fail(errorMessage("Connection failed", err))
		c.publish(ReasonPollFailed)
	}
}

// mergeAndPublish is the single success path shared by every source.
func (c *Coordinator) mergeAndPublish(data models.Signals, source, reason string) {
	c.signals.Merge(data)
	c.conn.Touch(c.now())
	c.metrics.Update(source)
	c.metrics.ObserveSignals(data)
	c.publish(reason)
}

// degrade starts the fallback and schedules a reconnect; both are idempotent.
func (c *Coordinator) degrade(ctx context.Context) {
	c.setMode(models.ModeDegraded)
	c.poll.start(ctx, c.opts.PollInterval)
	c.scheduleReconnect()
}

func (c *Coordinator) connectPush(ctx context.Context) {
	if c.push != nil {
		return
	}
	c.attempt++
	attempt := c.attempt
	c.metrics.PushAttempt()
	c.log.Infow("push_connecting", "attempt", attempt)
	c.push = c.newPush(attempt, func(e PushEvent) {
		e.Attempt = attempt
		c.post(event{kind: evPush, push: e})
	})
	c.push.Connect(ctx)
}

// reconnectPush drops a lingering handle and dials a fresh one.
func (c *Coordinator) reconnectPush(ctx context.Context) {
	c.releasePush()
	c.connectPush(ctx)
}

func (c *Coordinator) scheduleReconnect() {
	if c.reconnect != nil {
		return
	}
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.reconnect = c.sched.AfterFunc(c.opts.ReconnectDelay, func() {
		c.post(event{kind: evReconnect, tag: seq})
	})
	c.log.Debugw("push_reconnect_scheduled", "delay", c.opts.ReconnectDelay)
}

func (c *Coordinator) cancelReconnect() {
	if c.reconnect == nil {
		return
	}
	c.reconnect.Stop()
	c.reconnect = nil
}

func (c *Coordinator) stopPolling() {
	c.poll.stop()
}

func (c *Coordinator) releasePush() {
	if c.push == nil {
		return
	}
	if err := c.push.Disconnect(); err != nil {
		c.log.Debugw("push_disconnect_failed", "attempt", c.attempt, "err", err)
	}
	c.push = nil
}

func (c *Coordinator) teardown() {
	c.setMode(models.ModeShuttingDown)
	close(c.done)

	c.cancelReconnect()
	c.stopPolling()
	c.stopDemo()
	c.releasePush()

	c.conn.Connected = false
	c.publish(ReasonShutdown)
	c.log.Infow("acquisition_stopped", "attempts", c.attempt)
}

func (c *Coordinator) setMode(m models.Mode) {
	if c.mode == m {
		return
	}
	c.log.Infow("acquisition_mode_changed", "from", c.mode, "to", m)
	c.mode = m
	c.metrics.SetMode(m)
}

func (c *Coordinator) publish(reason string) {
	c.version++
	u := Update{
		Version:    c.version,
		Reason:     reason,
		Mode:       c.mode,
		Signals:    c.signals.Clone(),
		Connection: c.conn.Clone(),
	}

	c.mu.Lock()
	c.current = u
	c.mu.Unlock()

	c.subMu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for _, s := range subs {
		s.fn(u.clone())
	}
}

func errorMessage(prefix string, err error) string {
	if err == nil {
		return prefix
	}
	return prefix + ": " + err.Error()
}
