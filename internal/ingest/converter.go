// Package ingest turns raw transport messages into IngestedMessage records
// and fans them out to the processors registered for their intake path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"faultline/internal/headers"
	"faultline/internal/identity"
	"faultline/internal/logger"
	"faultline/internal/metrics"
	"faultline/internal/models"
)

// ErrUnknownPath is returned for messages from an intake path with no
// processor category.
var ErrUnknownPath = errors.New("unknown intake path")

// Processor receives fully enriched messages. Audit and error recorders
// implement it.
type Processor interface {
	Name() string
	Process(ctx context.Context, msg *models.IngestedMessage) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc struct {
	ProcessorName string
	Fn            func(ctx context.Context, msg *models.IngestedMessage) error
}

func (f ProcessorFunc) Name() string { return f.ProcessorName }

func (f ProcessorFunc) Process(ctx context.Context, msg *models.IngestedMessage) error {
	return f.Fn(ctx, msg)
}

// ProcessorError wraps the failure of one processor.
type ProcessorError struct {
	Processor string
	MessageID string
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s failed for message %s: %v", e.Processor, e.MessageID, e.Err)
}

func (e *ProcessorError) Unwrap() error { return e.Err }

// Converter is stateless per message and safe for concurrent use. The
// processor registry is expected to be filled before intake starts.
type Converter struct {
	classifier *headers.Classifier
	now        func() time.Time

	mu         sync.RWMutex
	processors map[models.IntakePath][]Processor
}

// Config holds converter configuration
type Config struct {
	Classifier *headers.Classifier
	// Clock used when a failure carries no readable time of failure
	Now func() time.Time
}

// NewConverter creates a converter with no registered processors.
func NewConverter(cfg Config) *Converter {
	if cfg.Classifier == nil {
		cfg.Classifier = headers.DefaultClassifier()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Converter{
		classifier: cfg.Classifier,
		now:        cfg.Now,
		processors: make(map[models.IntakePath][]Processor),
	}
}

// Register adds processors for a path. Dispatch follows registration order.
func (c *Converter) Register(path models.IntakePath, ps ...Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processors[path] = append(c.processors[path], ps...)
}

// Processors returns the processors registered for path.
func (c *Converter) Processors(path models.IntakePath) []Processor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Processor, len(c.processors[path]))
	copy(out, c.processors[path])
	return out
}

// Convert builds the canonical record for msg. Identity errors are returned
// unchanged so callers can classify them.
func (c *Converter) Convert(msg *models.TransportMessage) (*models.IngestedMessage, error) {
	if msg.Path != models.IntakeAudit && msg.Path != models.IntakeError {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, msg.Path)
	}

	id, err := identity.Generate(msg.Headers)
	if err != nil {
		return nil, err
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = c.now().UTC()
	}

	ingested := &models.IngestedMessage{
		MessageID:          id.MessageID,
		UniqueID:           id.UniqueID,
		Body:               msg.Body,
		Headers:            msg.Headers,
		Classification:     c.classifier.Classify(msg.Headers),
		SendingEndpoint:    headers.ResolveSendingEndpoint(msg.Headers),
		ProcessingEndpoint: headers.ResolveProcessingEndpoint(msg.Headers, msg.Path),
		Recoverable:        msg.Recoverable,
		Path:               msg.Path,
		ReceivedAt:         receivedAt,
	}
	if msg.Path == models.IntakeError {
		ingested.Failure = headers.FailureDetails(msg.Headers, receivedAt)
	}
	return ingested, nil
}

// Dispatch hands msg to every processor of its path in registration order.
// The first failure stops dispatch and is returned.
func (c *Converter) Dispatch(ctx context.Context, msg *models.IngestedMessage) error {
	for _, p := range c.Processors(msg.Path) {
		if err := p.Process(ctx, msg); err != nil {
			metrics.ProcessorFailuresTotal.WithLabelValues(string(msg.Path), p.Name()).Inc()
			log := logger.WithMessage("converter", msg.MessageID, msg.UniqueID.String())
			log.Debug().
				Err(err).
				Str("processor", p.Name()).
				Msg("processor failed")
			return &ProcessorError{Processor: p.Name(), MessageID: msg.MessageID, Err: err}
		}
	}
	return nil
}

// Ingest converts and dispatches msg.
func (c *Converter) Ingest(ctx context.Context, msg *models.TransportMessage) error {
	start := time.Now()
	ingested, err := c.Convert(msg)
	if err != nil {
		return err
	}
	metrics.ConversionDuration.WithLabelValues(string(msg.Path)).Observe(time.Since(start).Seconds())
	return c.Dispatch(ctx, ingested)
}
