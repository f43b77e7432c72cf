package notify

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"vouch/internal/platform/metrics"
)

// Fanout dispatches one event to every configured channel concurrently.
// Channels are independent: one failing never suppresses the others.
type Fanout struct {
	channels []Channel
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewFanout(channels []Channel, logger *slog.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{channels: channels, logger: logger, metrics: m}
}

// Channels returns the configured channel names.
func (f *Fanout) Channels() []string {
	names := make([]string, len(f.channels))
	for i, ch := range f.channels {
		names[i] = ch.Name()
	}
	return names
}

// Dispatch sends ev to every channel not listed in skip and reports one
// result per attempted channel. It always returns a result for each channel
// tried; errors are carried in the results, never returned.
func (f *Fanout) Dispatch(ctx context.Context, ev Event, skip map[string]bool) []ChannelResult {
	var attempted []Channel
	for _, ch := range f.channels {
		if !skip[ch.Name()] {
			attempted = append(attempted, ch)
		}
	}

	results := make([]ChannelResult, len(attempted))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range attempted {
		g.Go(func() error {
			err := ch.Send(gctx, ev)
			res := ChannelResult{Channel: ch.Name(), Status: DeliverySent}
			if err != nil {
				res.Status = DeliveryFailed
				res.Err = err
				f.logger.WarnContext(ctx, "notification delivery failed",
					"channel", ch.Name(),
					"event_id", ev.ID,
					"kind", ev.Kind,
					"error", err,
				)
			}
			if f.metrics != nil {
				f.metrics.NotificationDeliveries.WithLabelValues(ch.Name(), string(res.Status)).Inc()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
