package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"vouch/internal/platform/metrics"
)

// Producer is the mirror's output. The Kafka adapter is the production
// implementation; tests use a fake.
type Producer interface {
	Produce(ctx context.Context, key string, value []byte) error
}

// KafkaProducer publishes audit events to a Kafka topic for SIEM ingestion.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaProducer{client: client, topic: topic}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, key string, value []byte) error {
	record := &kgo.Record{Topic: p.topic, Key: []byte(key), Value: value}
	return p.client.ProduceSync(ctx, record).FirstErr()
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// Mirror drains unmirrored audit events to the external log. Postgres remains
// the authoritative store; a mirror outage delays export but never blocks or
// fails an Emit.
type Mirror struct {
	source   MirrorSource
	producer Producer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
}

func NewMirror(source MirrorSource, producer Producer, logger *slog.Logger, m *metrics.Metrics) *Mirror {
	return &Mirror{
		source:   source,
		producer: producer,
		logger:   logger,
		metrics:  m,
		interval: 5 * time.Second,
		batch:    100,
	}
}

func (w *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "audit mirror pass failed", "error", err)
			}
		}
	}
}

func (w *Mirror) drain(ctx context.Context) error {
	events, err := w.source.NextUnmirrored(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("fetch unmirrored: %w", err)
	}

	var done []string
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal audit event %s: %w", event.ID, err)
		}
		if err := w.producer.Produce(ctx, event.ID, payload); err != nil {
			w.metrics.AuditMirrorFailures.Inc()
			w.logger.ErrorContext(ctx, "audit mirror produce failed",
				"event_id", event.ID,
				"action", event.Action,
				"error", err,
			)
			// Stop the pass here so events stay in ID order on the topic.
			break
		}
		done = append(done, event.ID)
	}

	if len(done) == 0 {
		return nil
	}
	return w.source.MarkMirrored(ctx, done)
}
