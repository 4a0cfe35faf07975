package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"faultline/internal/logger"
	"faultline/internal/metrics"
)

// DefaultMaxConflictRetries bounds optimistic-concurrency retries per signal.
const DefaultMaxConflictRetries = 5

// Manager applies signals to workflows. Transitions for one unique id are
// applied one at a time; different ids proceed in parallel.
type Manager struct {
	store              Store
	publisher          Publisher
	locks              *keyedMutex
	maxConflictRetries int
	now                func() time.Time
	newID              func() uuid.UUID
}

// ManagerConfig holds manager configuration
type ManagerConfig struct {
	Store              Store
	Publisher          Publisher
	MaxConflictRetries int
	Now                func() time.Time
	NewID              func() uuid.UUID
}

// NewManager creates a manager. A nil publisher drops all messages.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.New
	}
	return &Manager{
		store:              cfg.Store,
		publisher:          cfg.Publisher,
		locks:              newKeyedMutex(),
		maxConflictRetries: cfg.MaxConflictRetries,
		now:                cfg.Now,
		newID:              cfg.NewID,
	}
}

// transition mutates wf and reports the messages to publish.
type transition func(wf *Workflow) ([]Message, Outcome)

// update runs fn against the latest stored workflow under the key lock,
// re-reading and re-applying on optimistic conflicts. Messages are only
// returned for a transition that was saved.
func (m *Manager) update(ctx context.Context, uniqueID uuid.UUID, create func() *Workflow, fn transition) (*Workflow, []Message, Outcome, error) {
	unlock := m.locks.Lock(uniqueID)
	defer unlock()

	for attempt := 0; attempt <= m.maxConflictRetries; attempt++ {
		wf, err := m.store.Load(ctx, uniqueID)
		switch {
		case errors.Is(err, ErrWorkflowNotFound) && create != nil:
			wf = create()
		case err != nil:
			return nil, nil, "", err
		}

		msgs, outcome := fn(wf)
		if outcome.IsNoop() {
			return wf, nil, outcome, nil
		}

		err = m.store.Save(ctx, wf)
		if err == nil {
			return wf, msgs, outcome, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return nil, nil, "", fmt.Errorf("save workflow %s: %w", uniqueID, err)
		}

		metrics.WorkflowConflictsTotal.Inc()
		log := logger.WithComponent("failure_manager")
		log.Debug().
			Str("unique_id", uniqueID.String()).
			Int("attempt", attempt+1).
			Msg("workflow save conflict, retrying with fresh read")
	}

	return nil, nil, "", fmt.Errorf("%w: %s after %d attempts", ErrConflictRetriesExhausted, uniqueID, m.maxConflictRetries+1)
}

// ObserveFailure records a failure notification, creating the workflow on
// the first one.
func (m *Manager) ObserveFailure(ctx context.Context, f FailureObserved) (Outcome, error) {
	create := func() *Workflow { return NewWorkflow(f.UniqueID, f.MessageID) }
	attemptID := m.newID()

	_, msgs, outcome, err := m.update(ctx, f.UniqueID, create, func(wf *Workflow) ([]Message, Outcome) {
		return wf.ObserveFailure(f, attemptID)
	})
	if err != nil {
		return "", err
	}

	m.record(f.UniqueID, "failure_observed", outcome)
	m.publishEvents(ctx, msgs)
	return outcome, nil
}

// RequestRetry opens a retry for uniqueID and sends the PerformRetry
// command. When the command cannot be sent the retry is closed again so it
// does not block later requests.
func (m *Manager) RequestRetry(ctx context.Context, uniqueID uuid.UUID, targetAddress string) (*PerformRetry, Outcome, error) {
	retryID := m.newID()
	var cmd *PerformRetry

	_, _, outcome, err := m.update(ctx, uniqueID, nil, func(wf *Workflow) ([]Message, Outcome) {
		var o Outcome
		cmd, o = wf.RequestRetry(targetAddress, retryID, m.now())
		return nil, o
	})
	if err != nil {
		return nil, "", err
	}

	m.record(uniqueID, "retry_requested", outcome)
	if outcome.IsNoop() {
		return nil, outcome, nil
	}

	if err := m.publisher.Publish(ctx, *cmd); err != nil {
		metrics.BusPublishTotal.WithLabelValues(KindPerformRetry, "failed").Inc()
		if _, _, _, abandonErr := m.update(ctx, uniqueID, nil, func(wf *Workflow) ([]Message, Outcome) {
			if wf.abandonRetry(retryID) {
				return nil, Applied
			}
			return nil, NoopUnknownRetry
		}); abandonErr != nil {
			log := logger.WithComponent("failure_manager")
			log.Error().
				Err(abandonErr).
				Str("unique_id", uniqueID.String()).
				Str("retry_id", retryID.String()).
				Msg("failed to close retry after command publish failure")
		}
		return nil, "", fmt.Errorf("publish retry command for %s: %w", uniqueID, err)
	}
	metrics.BusPublishTotal.WithLabelValues(KindPerformRetry, "success").Inc()

	return cmd, outcome, nil
}

// RegisterRetrySuccess resolves uniqueID by the given retry.
func (m *Manager) RegisterRetrySuccess(ctx context.Context, uniqueID, retryID uuid.UUID) (Outcome, error) {
	_, msgs, outcome, err := m.update(ctx, uniqueID, nil, func(wf *Workflow) ([]Message, Outcome) {
		return wf.RetrySucceeded(retryID, m.now())
	})
	if err != nil {
		return "", err
	}

	m.record(uniqueID, "retry_succeeded", outcome)
	m.publishEvents(ctx, msgs)
	return outcome, nil
}

// ResolveRetry applies a detected retry success to the candidate whose
// workflow owns s.RetryID. Without a retry id, or when no candidate owns it,
// the first candidate with a stored workflow gets the outcome. It returns
// uuid.Nil when no candidate exists.
func (m *Manager) ResolveRetry(ctx context.Context, s RetrySuccess) (uuid.UUID, Outcome, error) {
	firstID := uuid.Nil
	var firstOutcome Outcome

	for _, id := range s.Candidates {
		outcome, err := m.RegisterRetrySuccess(ctx, id, s.RetryID)
		if errors.Is(err, ErrWorkflowNotFound) {
			continue
		}
		if err != nil {
			return uuid.Nil, "", err
		}
		if outcome == NoopUnknownRetry && s.RetryID != uuid.Nil {
			if firstID == uuid.Nil {
				firstID, firstOutcome = id, outcome
			}
			continue
		}
		return id, outcome, nil
	}

	if firstID != uuid.Nil {
		return firstID, firstOutcome, nil
	}

	metrics.WorkflowNoopsTotal.WithLabelValues(string(NoopUnknownWorkflow)).Inc()
	log := logger.WithComponent("failure_manager")
	log.Debug().
		Str("message_id", s.MessageID).
		Str("retry_id", s.RetryID.String()).
		Int("candidates", len(s.Candidates)).
		Msg("retry success for unknown failure dropped")
	return uuid.Nil, NoopUnknownWorkflow, nil
}

// Get loads the current workflow for uniqueID.
func (m *Manager) Get(ctx context.Context, uniqueID uuid.UUID) (*Workflow, error) {
	return m.store.Load(ctx, uniqueID)
}

// publishEvents is fire-and-forget: failures are logged, never returned.
func (m *Manager) publishEvents(ctx context.Context, msgs []Message) {
	log := logger.WithComponent("failure_manager")
	for _, msg := range msgs {
		if err := m.publisher.Publish(ctx, msg); err != nil {
			metrics.BusPublishTotal.WithLabelValues(msg.Kind(), "failed").Inc()
			log.Error().
				Err(err).
				Str("kind", msg.Kind()).
				Str("unique_id", msg.Key().String()).
				Msg("failed to publish domain event")
			continue
		}
		metrics.BusPublishTotal.WithLabelValues(msg.Kind(), "success").Inc()
	}
}

func (m *Manager) record(uniqueID uuid.UUID, signal string, outcome Outcome) {
	log := logger.WithComponent("failure_manager")
	if outcome.IsNoop() {
		metrics.WorkflowNoopsTotal.WithLabelValues(string(outcome)).Inc()
		log.Debug().
			Str("unique_id", uniqueID.String()).
			Str("signal", signal).
			Str("outcome", string(outcome)).
			Msg("signal ignored")
		return
	}
	metrics.WorkflowTransitionsTotal.WithLabelValues(signal).Inc()
	log.Info().
		Str("unique_id", uniqueID.String()).
		Str("signal", signal).
		Msg("workflow updated")
}
