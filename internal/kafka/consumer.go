package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"faultline/internal/config"
	"faultline/internal/models"
)

var (
	ErrIntakeClosed = errors.New("intake is closed")
	ErrNotFromKafka = errors.New("message was not fetched from kafka")
)

// MessageReader is the subset of *kafka.Reader the intake uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewReader creates a consumer-group reader for one intake topic. Offsets
// are committed explicitly by Intake.Ack.
func NewReader(cfg config.KafkaConfig, topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
}

// Intake turns Kafka records into transport messages for one intake path.
// Workers may fetch and ack concurrently; the committed offset of a
// partition only advances past messages that have all been acked, so an
// unacked message is redelivered after a restart or rebalance.
type Intake struct {
	path   models.IntakePath
	topic  string
	reader MessageReader
	now    func() time.Time

	mu      sync.Mutex
	pending map[int]*partitionOffsets
	closed  bool
}

type partitionOffsets struct {
	fetched []kafka.Message
	acked   map[int64]bool
}

// NewIntake wraps reader for path.
func NewIntake(path models.IntakePath, topic string, reader MessageReader) *Intake {
	return &Intake{
		path:    path,
		topic:   topic,
		reader:  reader,
		now:     time.Now,
		pending: make(map[int]*partitionOffsets),
	}
}

// Path returns the intake path
func (in *Intake) Path() models.IntakePath { return in.path }

// Fetch blocks until the next record is available.
func (in *Intake) Fetch(ctx context.Context) (*models.TransportMessage, error) {
	m, err := in.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil, ErrIntakeClosed
	}
	p, ok := in.pending[m.Partition]
	if !ok {
		p = &partitionOffsets{acked: make(map[int64]bool)}
		in.pending[m.Partition] = p
	}
	p.fetched = append(p.fetched, m)
	in.mu.Unlock()

	return in.toTransport(m), nil
}

// Ack marks msg as done and commits every contiguous acked offset.
func (in *Intake) Ack(ctx context.Context, msg *models.TransportMessage) error {
	m, ok := msg.Ack.(kafka.Message)
	if !ok {
		return ErrNotFromKafka
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	p, ok := in.pending[m.Partition]
	if !ok {
		return nil
	}
	p.acked[m.Offset] = true

	var commit *kafka.Message
	for len(p.fetched) > 0 && p.acked[p.fetched[0].Offset] {
		head := p.fetched[0]
		delete(p.acked, head.Offset)
		p.fetched = p.fetched[1:]
		commit = &head
	}
	if commit == nil {
		return nil
	}
	if err := in.reader.CommitMessages(ctx, *commit); err != nil {
		return fmt.Errorf("commit %s/%d@%d: %w", commit.Topic, commit.Partition, commit.Offset, err)
	}
	return nil
}

// Pending returns the number of fetched but uncommitted records.
func (in *Intake) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := 0
	for _, p := range in.pending {
		n += len(p.fetched)
	}
	return n
}

// Close closes the underlying reader.
func (in *Intake) Close() error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	return in.reader.Close()
}

func (in *Intake) toTransport(m kafka.Message) *models.TransportMessage {
	pairs := make([]models.Header, 0, len(m.Headers))
	for _, h := range m.Headers {
		pairs = append(pairs, models.Header{Name: h.Key, Value: string(h.Value)})
	}

	topic := m.Topic
	if topic == "" {
		topic = in.topic
	}
	msg := models.NewTransportMessage(in.path, topic, models.NewHeaders(pairs...), m.Value)
	msg.NativeID = fmt.Sprintf("%s/%d@%d", topic, m.Partition, m.Offset)
	msg.Ack = m
	if !m.Time.IsZero() {
		msg.ReceivedAt = m.Time
	} else {
		msg.ReceivedAt = in.now()
	}
	return msg
}
