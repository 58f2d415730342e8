package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/models"
)

var (
	// ErrUnexpectedStatus is returned for a non-2xx poll response.
	ErrUnexpectedStatus = errors.New("unexpected poll response status")
	// ErrBodyTooLarge is returned when a poll body exceeds maxMessageSize.
	ErrBodyTooLarge = errors.New("poll response body too large")
)

// Fetcher pulls one partial snapshot from the poll endpoint.
type Fetcher interface {
	Fetch(ctx context.Context) (models.Signals, error)
}

// HTTPFetcher polls a REST endpoint returning the same JSON shape as push frames.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher returns a fetcher for url; every request is bounded by timeout.
func NewHTTPFetcher(url string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{url: url, client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (models.Signals, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", f.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxMessageSize))
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read poll body: %w", err)
	}
	if len(body) > maxMessageSize {
		return nil, fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxMessageSize)
	}
	return DecodeSignals(body)
}

// poller runs the recurring pull while the push channel is down.
// It is owned by the coordinator goroutine; only the fetch itself runs elsewhere.
type poller struct {
	fetcher Fetcher
	sched   Scheduler
	post    func(event)
	log     *logger.Logger

	session  uint64
	task     Task
	inFlight bool
}

// start pulls immediately, then every interval. Returns false if already running.
func (p *poller) start(ctx context.Context, interval time.Duration) bool {
	if p.task != nil {
		return false
	}
	p.session++
	tag := p.session
	p.task = p.sched.Every(interval, func() {
		p.post(event{kind: evPollTick, tag: tag})
	})
	p.log.Infow("poll_started", "interval", interval)
	p.pull(ctx)
	return true
}

// stop cancels future ticks. Returns false if not running.
func (p *poller) stop() bool {
	if p.task == nil {
		return false
	}
	p.task.Stop()
	p.task = nil
	p.inFlight = false
	p.log.Infow("poll_stopped")
	return true
}

// current reports whether tag belongs to the running session.
func (p *poller) current(tag uint64) bool {
	return p.task != nil && tag == p.session
}

// pull issues one request unless the previous one has not completed yet.
func (p *poller) pull(ctx context.Context) {
	if p.inFlight {
		p.log.Debugw("poll_skipped_in_flight")
		return
	}
	p.inFlight = true
	tag := p.session
	go func() {
		data, err := p.fetcher.Fetch(ctx)
		p.post(event{kind: evPollResult, tag: tag, data: data, err: err})
	}()
}

// settle marks the in-flight pull of tag complete. False for a stale result.
func (p *poller) settle(tag uint64) bool {
	if !p.current(tag) {
		return false
	}
	p.inFlight = false
	return true
}
