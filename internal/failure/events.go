package failure

import (
	"context"
	"time"

	"github.com/google/uuid"

	"faultline/internal/headers"
	"faultline/internal/models"
)

// Message kinds published on the bus
const (
	KindMessageFailed                 = "MessageFailed"
	KindMessageFailedRepeatedly       = "MessageFailedRepeatedly"
	KindMessageFailureResolvedByRetry = "MessageFailureResolvedByRetry"
	KindPerformRetry                  = "PerformRetry"
)

// Message is a domain event or command emitted by a workflow transition.
type Message interface {
	Kind() string
	// Key orders messages for the same failure on the bus
	Key() uuid.UUID
}

// FailureObserved is the input signal for one failure notification.
type FailureObserved struct {
	UniqueID               uuid.UUID
	MessageID              string
	AttemptedAt            time.Time
	FailingEndpointAddress string
	ProcessingEndpoint     models.EndpointInstance
	Exception              models.ExceptionInfo
}

// MessageFailed is emitted on the first failure of a message.
type MessageFailed struct {
	UniqueID               uuid.UUID               `json:"unique_id"`
	MessageID              string                  `json:"message_id"`
	FailingEndpointAddress string                  `json:"failing_endpoint_address"`
	ProcessingEndpoint     models.EndpointInstance `json:"processing_endpoint"`
	FailedAt               time.Time               `json:"failed_at"`
	Exception              models.ExceptionInfo    `json:"exception"`
}

func (MessageFailed) Kind() string     { return KindMessageFailed }
func (e MessageFailed) Key() uuid.UUID { return e.UniqueID }

// MessageFailedRepeatedly is emitted on every failure after the first.
type MessageFailedRepeatedly struct {
	UniqueID               uuid.UUID            `json:"unique_id"`
	MessageID              string               `json:"message_id"`
	FailingEndpointAddress string               `json:"failing_endpoint_address"`
	FailedAt               time.Time            `json:"failed_at"`
	Exception              models.ExceptionInfo `json:"exception"`
	Attempts               int                  `json:"attempts"`
}

func (MessageFailedRepeatedly) Kind() string     { return KindMessageFailedRepeatedly }
func (e MessageFailedRepeatedly) Key() uuid.UUID { return e.UniqueID }

// MessageFailureResolvedByRetry is emitted once, when a retry succeeds.
type MessageFailureResolvedByRetry struct {
	UniqueID   uuid.UUID `json:"unique_id"`
	MessageID  string    `json:"message_id"`
	RetryID    uuid.UUID `json:"retry_id"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func (MessageFailureResolvedByRetry) Kind() string     { return KindMessageFailureResolvedByRetry }
func (e MessageFailureResolvedByRetry) Key() uuid.UUID { return e.UniqueID }

// PerformRetry instructs the retry sender to re-deliver the message.
type PerformRetry struct {
	UniqueID              uuid.UUID `json:"unique_id"`
	MessageID             string    `json:"message_id"`
	RetryID               uuid.UUID `json:"retry_id"`
	AttemptID             uuid.UUID `json:"attempt_id"`
	TargetEndpointAddress string    `json:"target_endpoint_address"`
	RequestedAt           time.Time `json:"requested_at"`
}

func (PerformRetry) Kind() string     { return KindPerformRetry }
func (c PerformRetry) Key() uuid.UUID { return c.UniqueID }

// RetryHeaders are stamped on the re-delivered message so its successful
// processing can be correlated back to this retry.
func (c PerformRetry) RetryHeaders() map[string]string {
	return map[string]string{
		headers.LegacyRetryID:        c.RetryID.String(),
		headers.RetryUniqueMessageID: c.UniqueID.String(),
	}
}

// Publisher sends messages to the domain-event bus.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Message) error { return nil }
