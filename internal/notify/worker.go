package notify

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 5
	DefaultBaseBackoff  = 2 * time.Second
	defaultBatchSize    = 50
)

// Worker drains the outbox: it picks up due records, fans them out, and
// reschedules retryable failures with exponential backoff. A non-retryable
// rejection is terminal for that channel. Delivery is best-effort; a record
// that exhausts its attempts, or has nothing left worth retrying, is parked,
// never dropped.
type Worker struct {
	outbox   Outbox
	fanout   *Fanout
	logger   *slog.Logger
	interval time.Duration
	maxTries int
	backoff  time.Duration
	batch    int
	kick     chan struct{}
	now      func() time.Time
}

type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) { w.maxTries = n }
}

func WithBaseBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) { w.backoff = d }
}

func NewWorker(outbox Outbox, fanout *Fanout, logger *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:   outbox,
		fanout:   fanout,
		logger:   logger,
		interval: DefaultPollInterval,
		maxTries: DefaultMaxAttempts,
		backoff:  DefaultBaseBackoff,
		batch:    defaultBatchSize,
		kick:     make(chan struct{}, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Kick wakes the worker ahead of its next poll. It never blocks; a wake
// signal already pending is enough.
func (w *Worker) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-w.kick:
		}
		if err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "notification dispatch round failed", "error", err)
		}
	}
}

// ProcessOnce runs a single dispatch round over the due records.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	now := w.now()
	due, err := w.outbox.Due(ctx, now, w.batch)
	if err != nil {
		return err
	}
	for _, rec := range due {
		w.deliver(ctx, rec)
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, rec Record) {
	if rec.ChannelStatus == nil {
		rec.ChannelStatus = make(map[string]DeliveryStatus)
	}

	// Channels that succeeded or were permanently rejected are never retried.
	skip := make(map[string]bool, len(rec.ChannelStatus))
	for name, status := range rec.ChannelStatus {
		if status == DeliverySent || status == DeliveryRejected {
			skip[name] = true
		}
	}

	results := w.fanout.Dispatch(ctx, rec.Event, skip)
	for _, res := range results {
		status := res.Status
		if status == DeliveryFailed && !IsRetryable(res.Err) {
			status = DeliveryRejected
			w.logger.ErrorContext(ctx, "notification rejected by provider",
				"channel", res.Channel,
				"event_id", rec.Event.ID,
				"error", res.Err,
			)
		}
		rec.ChannelStatus[res.Channel] = status
	}
	rec.Attempts++

	switch {
	case allSent(w.fanout.Channels(), rec.ChannelStatus):
		rec.State = StateDelivered
	case settled(w.fanout.Channels(), rec.ChannelStatus) || rec.Attempts >= w.maxTries:
		rec.State = StateExhausted
		w.logger.ErrorContext(ctx, "notification attempts exhausted",
			"event_id", rec.Event.ID,
			"kind", rec.Event.Kind,
			"attempts", rec.Attempts,
		)
	default:
		rec.NextAttempt = w.now().Add(w.backoff << (rec.Attempts - 1))
	}

	if err := w.outbox.Update(ctx, rec); err != nil {
		w.logger.ErrorContext(ctx, "persist notification round failed",
			"event_id", rec.Event.ID, "error", err)
	}
}

func allSent(channels []string, status map[string]DeliveryStatus) bool {
	for _, name := range channels {
		if status[name] != DeliverySent {
			return false
		}
	}
	return true
}

// settled reports whether every channel reached a terminal status, so another
// round could not change the outcome.
func settled(channels []string, status map[string]DeliveryStatus) bool {
	for _, name := range channels {
		if status[name] != DeliverySent && status[name] != DeliveryRejected {
			return false
		}
	}
	return true
}
