package acquisition

import (
	"sync"
	"time"
)

// Task is a scheduled callback. Stop is idempotent.
type Task interface {
	Stop()
}

// Scheduler creates cancellable timers. Callbacks run on their own goroutine
// and must only hand work over to the coordinator.
type Scheduler interface {
	// AfterFunc runs f once after d.
	AfterFunc(d time.Duration, f func()) Task
	// Every runs f every d until stopped.
	Every(d time.Duration, f func()) Task
}

// SystemScheduler is backed by time.Timer and time.Ticker.
type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Task {
	return timerTask{t: time.AfterFunc(d, f)}
}

func (SystemScheduler) Every(d time.Duration, f func()) Task {
	t := &tickerTask{ticker: time.NewTicker(d), stop: make(chan struct{})}
	go t.loop(f)
	return t
}

type timerTask struct {
	t *time.Timer
}

func (t timerTask) Stop() { t.t.Stop() }

type tickerTask struct {
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func (t *tickerTask) loop(f func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-t.ticker.C:
			f()
		}
	}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() { close(t.stop) })
}
