// Package failure tracks the lifecycle of each failing message: repeated
// failures, retries (at most one in flight), and resolution by a successful
// retry.
//
// Workflow is a plain state object whose transition methods do no I/O.
// Manager loads, applies, saves and publishes, serialising all transitions
// for the same unique id.
package failure

import (
	"time"

	"github.com/google/uuid"

	"faultline/internal/models"
)

// Status is derived from the workflow fields and never stored.
type Status string

const (
	StatusNew           Status = "new"
	StatusAwaitingRetry Status = "awaiting_retry"
	StatusRetryInFlight Status = "retry_in_flight"
	StatusResolved      Status = "resolved"
)

// Outcome describes what a signal did to a workflow.
type Outcome string

const (
	Applied Outcome = "applied"

	NoopDuplicateAttempt Outcome = "duplicate_attempt"
	NoopRetryInFlight    Outcome = "retry_in_flight"
	NoopAlreadyResolved  Outcome = "already_resolved"
	NoopUnknownRetry     Outcome = "unknown_retry"
	NoopUnknownWorkflow  Outcome = "unknown_workflow"
)

// IsNoop reports whether the signal left the workflow untouched.
func (o Outcome) IsNoop() bool { return o != Applied }

// ProcessingAttempt is one observed failure of the message.
type ProcessingAttempt struct {
	AttemptID              uuid.UUID `json:"attempt_id" msgpack:"attempt_id"`
	AttemptedAt            time.Time `json:"attempted_at" msgpack:"attempted_at"`
	FailingEndpointAddress string    `json:"failing_endpoint_address" msgpack:"failing_endpoint_address"`
	ExceptionMessage       string    `json:"exception_message,omitempty" msgpack:"exception_message,omitempty"`
}

// RetryAttempt is one request to re-deliver the message.
type RetryAttempt struct {
	RetryID       uuid.UUID `json:"retry_id" msgpack:"retry_id"`
	AttemptID     uuid.UUID `json:"attempt_id" msgpack:"attempt_id"`
	TargetAddress string    `json:"target_address" msgpack:"target_address"`
	RequestedAt   time.Time `json:"requested_at" msgpack:"requested_at"`
	Completed     bool      `json:"completed" msgpack:"completed"`
	// Only meaningful once Completed; false when a later failure closed it
	Succeeded bool `json:"succeeded" msgpack:"succeeded"`
}

// Workflow is the per-message failure state, keyed by unique id.
type Workflow struct {
	UniqueID           uuid.UUID               `json:"unique_id" msgpack:"unique_id"`
	MessageID          string                  `json:"message_id" msgpack:"message_id"`
	ProcessingEndpoint models.EndpointInstance `json:"processing_endpoint" msgpack:"processing_endpoint"`
	ProcessingAttempts []ProcessingAttempt     `json:"processing_attempts" msgpack:"processing_attempts"`
	RetryAttempts      []RetryAttempt          `json:"retry_attempts" msgpack:"retry_attempts"`
	Resolved           bool                    `json:"resolved" msgpack:"resolved"`
	ResolvedAt         time.Time               `json:"resolved_at,omitempty" msgpack:"resolved_at,omitempty"`

	// Optimistic concurrency version; 0 means never saved
	Version int64 `json:"version" msgpack:"version"`
}

// NewWorkflow creates an empty workflow for uniqueID.
func NewWorkflow(uniqueID uuid.UUID, messageID string) *Workflow {
	return &Workflow{UniqueID: uniqueID, MessageID: messageID}
}

// Status derives the lifecycle state.
func (w *Workflow) Status() Status {
	switch {
	case w.Resolved:
		return StatusResolved
	case w.outstandingRetry() >= 0:
		return StatusRetryInFlight
	case len(w.ProcessingAttempts) > 1 || len(w.RetryAttempts) > 0:
		return StatusAwaitingRetry
	default:
		return StatusNew
	}
}

// OutstandingRetry returns the retry still in flight, if any.
func (w *Workflow) OutstandingRetry() (RetryAttempt, bool) {
	i := w.outstandingRetry()
	if i < 0 {
		return RetryAttempt{}, false
	}
	return w.RetryAttempts[i], true
}

// LatestAttempt returns the most recent processing attempt.
func (w *Workflow) LatestAttempt() (ProcessingAttempt, bool) {
	if len(w.ProcessingAttempts) == 0 {
		return ProcessingAttempt{}, false
	}
	latest := w.ProcessingAttempts[0]
	for _, a := range w.ProcessingAttempts[1:] {
		if a.AttemptedAt.After(latest.AttemptedAt) {
			latest = a
		}
	}
	return latest, true
}

// Clone returns a deep copy.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.ProcessingAttempts = append([]ProcessingAttempt(nil), w.ProcessingAttempts...)
	c.RetryAttempts = append([]RetryAttempt(nil), w.RetryAttempts...)
	return &c
}

// ObserveFailure records a failure. A repeat for an AttemptedAt already on
// record is a no-op. A new failure later than the attempt an outstanding
// retry targeted closes that retry as unsuccessful.
func (w *Workflow) ObserveFailure(f FailureObserved, attemptID uuid.UUID) ([]Message, Outcome) {
	for _, a := range w.ProcessingAttempts {
		if a.AttemptedAt.Equal(f.AttemptedAt) {
			return nil, NoopDuplicateAttempt
		}
	}

	if w.MessageID == "" {
		w.MessageID = f.MessageID
	}
	if !f.ProcessingEndpoint.IsUnknown() {
		w.ProcessingEndpoint = f.ProcessingEndpoint
	}

	if i := w.outstandingRetry(); i >= 0 {
		if target, ok := w.attempt(w.RetryAttempts[i].AttemptID); !ok || f.AttemptedAt.After(target.AttemptedAt) {
			w.RetryAttempts[i].Completed = true
			w.RetryAttempts[i].Succeeded = false
		}
	}

	w.ProcessingAttempts = append(w.ProcessingAttempts, ProcessingAttempt{
		AttemptID:              attemptID,
		AttemptedAt:            f.AttemptedAt,
		FailingEndpointAddress: f.FailingEndpointAddress,
		ExceptionMessage:       f.Exception.Message,
	})

	if len(w.ProcessingAttempts) == 1 {
		return []Message{MessageFailed{
			UniqueID:               w.UniqueID,
			MessageID:              w.MessageID,
			FailingEndpointAddress: f.FailingEndpointAddress,
			ProcessingEndpoint:     f.ProcessingEndpoint,
			FailedAt:               f.AttemptedAt,
			Exception:              f.Exception,
		}}, Applied
	}
	return []Message{MessageFailedRepeatedly{
		UniqueID:               w.UniqueID,
		MessageID:              w.MessageID,
		FailingEndpointAddress: f.FailingEndpointAddress,
		FailedAt:               f.AttemptedAt,
		Exception:              f.Exception,
		Attempts:               len(w.ProcessingAttempts),
	}}, Applied
}

// RequestRetry opens a retry against the most recent attempt. It is a no-op
// while another retry is in flight or once the workflow is resolved. An
// empty target falls back to the address the message last failed on.
func (w *Workflow) RequestRetry(target string, retryID uuid.UUID, now time.Time) (*PerformRetry, Outcome) {
	if w.Resolved {
		return nil, NoopAlreadyResolved
	}
	if w.outstandingRetry() >= 0 {
		return nil, NoopRetryInFlight
	}
	latest, ok := w.LatestAttempt()
	if !ok {
		return nil, NoopUnknownWorkflow
	}
	if target == "" {
		target = latest.FailingEndpointAddress
	}

	w.RetryAttempts = append(w.RetryAttempts, RetryAttempt{
		RetryID:       retryID,
		AttemptID:     latest.AttemptID,
		TargetAddress: target,
		RequestedAt:   now,
	})

	return &PerformRetry{
		UniqueID:              w.UniqueID,
		MessageID:             w.MessageID,
		RetryID:               retryID,
		AttemptID:             latest.AttemptID,
		TargetEndpointAddress: target,
		RequestedAt:           now,
	}, Applied
}

// RetrySucceeded resolves the workflow. retryID uuid.Nil matches the retry
// currently in flight. Resolution happens at most once.
func (w *Workflow) RetrySucceeded(retryID uuid.UUID, now time.Time) ([]Message, Outcome) {
	if w.Resolved {
		return nil, NoopAlreadyResolved
	}

	i := -1
	if retryID == uuid.Nil {
		i = w.outstandingRetry()
	} else {
		for j := range w.RetryAttempts {
			if w.RetryAttempts[j].RetryID == retryID {
				i = j
				break
			}
		}
	}
	if i < 0 {
		return nil, NoopUnknownRetry
	}

	w.RetryAttempts[i].Completed = true
	w.RetryAttempts[i].Succeeded = true
	w.Resolved = true
	w.ResolvedAt = now

	return []Message{MessageFailureResolvedByRetry{
		UniqueID:   w.UniqueID,
		MessageID:  w.MessageID,
		RetryID:    w.RetryAttempts[i].RetryID,
		ResolvedAt: now,
	}}, Applied
}

// abandonRetry closes a retry whose command could not be sent.
func (w *Workflow) abandonRetry(retryID uuid.UUID) bool {
	for i := range w.RetryAttempts {
		if w.RetryAttempts[i].RetryID == retryID && !w.RetryAttempts[i].Completed {
			w.RetryAttempts[i].Completed = true
			w.RetryAttempts[i].Succeeded = false
			return true
		}
	}
	return false
}

func (w *Workflow) outstandingRetry() int {
	for i := range w.RetryAttempts {
		if !w.RetryAttempts[i].Completed {
			return i
		}
	}
	return -1
}

func (w *Workflow) attempt(id uuid.UUID) (ProcessingAttempt, bool) {
	for _, a := range w.ProcessingAttempts {
		if a.AttemptID == id {
			return a, true
		}
	}
	return ProcessingAttempt{}, false
}
