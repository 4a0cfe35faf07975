package failure

import (
	"context"
	"errors"

	"faultline/internal/models"
)

// ErrMissingFailureDetails is returned when an error-path message reaches
// the recorder without failure details.
var ErrMissingFailureDetails = errors.New("message has no failure details")

// Recorder feeds error-queue messages into the workflow as failure
// notifications.
type Recorder struct {
	manager *Manager
}

// NewRecorder creates an error-path processor.
func NewRecorder(m *Manager) *Recorder {
	return &Recorder{manager: m}
}

func (r *Recorder) Name() string { return "failure_recorder" }

// Process records one failure.
func (r *Recorder) Process(ctx context.Context, msg *models.IngestedMessage) error {
	if msg.Failure == nil {
		return ErrMissingFailureDetails
	}
	_, err := r.manager.ObserveFailure(ctx, FailureObserved{
		UniqueID:               msg.UniqueID,
		MessageID:              msg.MessageID,
		AttemptedAt:            msg.Failure.TimeOfFailure,
		FailingEndpointAddress: msg.Failure.FailingEndpointAddress,
		ProcessingEndpoint:     msg.ProcessingEndpoint,
		Exception:              msg.Failure.Exception,
	})
	return err
}

// RetrySuccessProcessor watches successfully processed messages for retry
// correlation headers and resolves the matching failure.
type RetrySuccessProcessor struct {
	manager  *Manager
	detector *RetryDetector
}

// NewRetrySuccessProcessor creates an audit-path processor.
func NewRetrySuccessProcessor(m *Manager, d *RetryDetector) *RetrySuccessProcessor {
	return &RetrySuccessProcessor{manager: m, detector: d}
}

func (p *RetrySuccessProcessor) Name() string { return "retry_success_detector" }

// Process resolves a failure when msg is a successful retry.
func (p *RetrySuccessProcessor) Process(ctx context.Context, msg *models.IngestedMessage) error {
	signal, ok := p.detector.Detect(msg.Headers)
	if !ok {
		return nil
	}
	_, _, err := p.manager.ResolveRetry(ctx, signal)
	return err
}
