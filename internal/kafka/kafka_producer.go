package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"faultline/internal/config"
	"faultline/internal/failure"
	"faultline/internal/logger"
	"faultline/internal/metrics"
	"faultline/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Bus record headers
const (
	HeaderKind     = "faultline.kind"
	HeaderUniqueID = "faultline.unique_id"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Topics routes domain events and retry commands.
type Topics struct {
	Events  string
	Retries string
}

// Producer publishes failure events and retry commands with a pool of
// writers and exponential backoff. It implements failure.Publisher.
type Producer struct {
	cfg     config.ProducerConfig
	topics  Topics
	writers []MessageWriter
	pool    chan MessageWriter
	closed  atomic.Bool
	now     func() time.Time
	node    string

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// ProducerOption is a functional option for configuring the producer
type ProducerOption func(*Producer)

// WithWriters replaces the kafka writers, mainly for tests.
func WithWriters(ws ...MessageWriter) ProducerOption {
	return func(p *Producer) {
		p.writers = ws
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) ProducerOption {
	return func(p *Producer) { p.now = now }
}

// NewProducer creates a producer for topics.
func NewProducer(brokers []string, topics Topics, cfg config.ProducerConfig, opts ...ProducerOption) (*Producer, error) {
	if topics.Events == "" || topics.Retries == "" {
		return nil, errors.New("events and retries topics are required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}

	node, _ := os.Hostname()
	p := &Producer{cfg: cfg, topics: topics, now: time.Now, node: node}
	for _, opt := range opts {
		opt(p)
	}

	if len(p.writers) == 0 {
		if len(brokers) == 0 {
			return nil, errors.New("at least one broker is required")
		}
		compression := getCompression(cfg.Compression)
		for i := 0; i < cfg.PoolSize; i++ {
			p.writers = append(p.writers, &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Balancer:     &kafka.Hash{}, // same unique id, same partition
				BatchSize:    cfg.BatchSize,
				BatchTimeout: cfg.BatchTimeout,
				WriteTimeout: cfg.WriteTimeout,
				RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
				Compression:  compression,
				MaxAttempts:  1,
			})
		}
	}

	p.pool = make(chan MessageWriter, len(p.writers))
	for _, w := range p.writers {
		p.pool <- w
	}
	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None
	}
}

// Publish sends msgs in one write. Retry commands go to the retries topic;
// everything else to the events topic.
func (p *Producer) Publish(ctx context.Context, msgs ...failure.Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		rec, err := p.encode(m)
		if err != nil {
			p.messagesFailed.Add(uint64(len(msgs)))
			return err
		}
		records = append(records, rec)
	}

	var writer MessageWriter
	select {
	case writer = <-p.pool:
		defer func() { p.pool <- writer }()
	case <-ctx.Done():
		p.messagesFailed.Add(uint64(len(records)))
		return ctx.Err()
	}

	if err := p.publishWithRetry(ctx, writer, records); err != nil {
		p.messagesFailed.Add(uint64(len(records)))
		return err
	}

	p.messagesSent.Add(uint64(len(records)))
	for _, r := range records {
		p.bytesWritten.Add(uint64(len(r.Value)))
	}
	return nil
}

func (p *Producer) encode(m failure.Message) (kafka.Message, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %s: %v", ErrSerializeFailed, m.Kind(), err)
	}
	key := m.Key().String()
	envelope := models.NewEnvelope(m.Kind(), key, payload, p.node, p.now())
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %s: %v", ErrSerializeFailed, m.Kind(), err)
	}

	rec := kafka.Message{
		Topic: p.topics.Events,
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: HeaderKind, Value: []byte(m.Kind())},
			{Key: HeaderUniqueID, Value: []byte(key)},
		},
	}

	if cmd, ok := m.(failure.PerformRetry); ok {
		rec.Topic = p.topics.Retries
		for name, value := range cmd.RetryHeaders() {
			rec.Headers = append(rec.Headers, kafka.Header{Key: name, Value: []byte(value)})
		}
	}
	return rec, nil
}

// publishWithRetry writes records with exponential backoff retry
func (p *Producer) publishWithRetry(ctx context.Context, writer MessageWriter, records []kafka.Message) error {
	log := logger.WithComponent("kafka_producer")
	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Int("batch_size", len(records)).
				Dur("backoff", backoff).
				Msg("retrying kafka publish")

			metrics.BusPublishRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := writer.WriteMessages(ctx, records...)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("kafka publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Close closes all writers in the pool
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}
