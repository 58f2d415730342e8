package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"transformer_monitor/internal/acquisition"
	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/models"
	"transformer_monitor/internal/repository"

	"github.com/google/uuid"
)

const (
	recorderBuffer = 256
	writeTimeout   = 3 * time.Second
	drainTimeout   = 2 * time.Second
)

// RecorderOptions tunes the journal recorder.
type RecorderOptions struct {
	// Retention prunes older entries at startup; zero keeps everything.
	Retention time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// JournalRecorder turns published acquisition updates into journal entries:
// mode changes, push and poll failures, and the final shutdown.
// Repeated identical failures are journaled once until data flows again.
type JournalRecorder struct {
	journal repository.JournalRepo
	opts    RecorderOptions
	log     *logger.Logger

	updates     chan acquisition.Update
	dropped     atomic.Uint64
	unsubscribe func()

	lastMode    models.Mode
	lastReason  string
	lastPushErr string
	lastPollErr string
}

func NewJournalRecorder(journal repository.JournalRepo, src Source, opts RecorderOptions, log *logger.Logger) *JournalRecorder {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &JournalRecorder{
		journal:  journal,
		opts:     opts,
		log:      log,
		updates:  make(chan acquisition.Update, recorderBuffer),
		lastMode: models.ModeConnecting,
	}
	// Startup transitions can be published before Run is scheduled; queue them.
	r.unsubscribe = src.Subscribe(r.enqueue)
	return r
}

// Run records until ctx is cancelled, then waits briefly for the shutdown update.
// Updates published between NewJournalRecorder and Run are journaled too.
func (r *JournalRecorder) Run(ctx context.Context) error {
	defer r.unsubscribe()
	r.prune(ctx)

	// Writes outlive ctx so the final entries land during shutdown.
	base := context.WithoutCancel(ctx)
	for {
		select {
		case u := <-r.updates:
			if r.record(base, u) {
				return nil
			}
		case <-ctx.Done():
			r.drain(base)
			return nil
		}
	}
}

// enqueue runs on the acquisition goroutine and must not block it.
func (r *JournalRecorder) enqueue(u acquisition.Update) {
	select {
	case r.updates <- u:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warnw("journal_update_dropped", "version", u.Version, "dropped", n)
		}
	}
}

func (r *JournalRecorder) drain(ctx context.Context) {
	deadline := time.NewTimer(drainTimeout)
	defer deadline.Stop()
	for {
		select {
		case u := <-r.updates:
			if r.record(ctx, u) {
				return
			}
		case <-deadline.C:
			r.log.Warnw("journal_drain_timeout", "pending", len(r.updates))
			return
		}
	}
}

func (r *JournalRecorder) prune(ctx context.Context) {
	if r.opts.Retention <= 0 {
		return
	}
	cutoff := r.opts.Now().Add(-r.opts.Retention)
	n, err := r.journal.Prune(ctx, cutoff)
	if err != nil {
		r.log.Errorw("journal_prune_failed", "err", err)
		return
	}
	r.log.Infow("journal_pruned", "before", cutoff.UTC(), "rows", n)
}

// record journals what u changed and reports whether it was the final update.
func (r *JournalRecorder) record(ctx context.Context, u acquisition.Update) (final bool) {
	defer func() { r.lastReason = u.Reason }()

	if u.Reason == acquisition.ReasonShutdown {
		r.append(ctx, models.AcquisitionEvent{
			Type:        models.EventShutdown,
			Description: "Acquisition stopped",
			Metadata: map[string]any{
				"from":    r.lastMode,
				"version": u.Version,
			},
		})
		r.lastMode = u.Mode
		return true
	}

	if u.Mode != r.lastMode {
		r.append(ctx, models.AcquisitionEvent{
			Type:        models.EventModeChange,
			Description: fmt.Sprintf("%s -> %s", r.lastMode, u.Mode),
			Metadata: map[string]any{
				"from":   r.lastMode,
				"to":     u.Mode,
				"reason": u.Reason,
			},
		})
		r.lastMode = u.Mode
	}

	switch u.Reason {
	case acquisition.ReasonPushError:
		r.pushFailure(ctx, u)
	case acquisition.ReasonPushClosed:
		// A close right after an error describes the same failure.
		if u.Connection.Error != "" && r.lastReason != acquisition.ReasonPushError {
			r.pushFailure(ctx, u)
		}
	case acquisition.ReasonPollFailed:
		if u.Connection.Error == r.lastPollErr {
			return false
		}
		r.lastPollErr = u.Connection.Error
		r.append(ctx, models.AcquisitionEvent{
			Type:        models.EventPollError,
			Description: u.Connection.Error,
			Metadata:    map[string]any{"mode": u.Mode},
		})
	case acquisition.ReasonPushOpen:
		r.lastPushErr = ""
	case acquisition.ReasonPushMessage, acquisition.ReasonPollData:
		r.lastPollErr = ""
	}
	return false
}

func (r *JournalRecorder) pushFailure(ctx context.Context, u acquisition.Update) {
	if u.Connection.Error == r.lastPushErr {
		return
	}
	r.lastPushErr = u.Connection.Error
	r.append(ctx, models.AcquisitionEvent{
		Type:        models.EventPushError,
		Description: u.Connection.Error,
		Metadata:    map[string]any{"reason": u.Reason},
	})
}

func (r *JournalRecorder) append(ctx context.Context, e models.AcquisitionEvent) {
	e.EventID = uuid.NewString()
	e.OccurredAt = r.opts.Now().UTC()

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.journal.Append(wctx, e); err != nil {
		r.log.Errorw("journal_append_failed", "type", e.Type, "err", err)
		return
	}
	r.log.Debugw("journal_appended", "type", e.Type, "description", e.Description)
}
