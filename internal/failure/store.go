package failure

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store errors
var (
	ErrWorkflowNotFound         = errors.New("failure workflow not found")
	ErrConcurrencyConflict      = errors.New("failure workflow was modified concurrently")
	ErrConflictRetriesExhausted = errors.New("failure workflow conflict retries exhausted")
)

// Store persists workflows with optimistic concurrency. Save must fail with
// ErrConcurrencyConflict when the stored version differs from wf.Version,
// and on success must bump wf.Version to the stored version.
type Store interface {
	Load(ctx context.Context, uniqueID uuid.UUID) (*Workflow, error)
	Save(ctx context.Context, wf *Workflow) error
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*Workflow
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[uuid.UUID]*Workflow)}
}

func (s *MemoryStore) Load(ctx context.Context, uniqueID uuid.UUID) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[uniqueID]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.workflows[wf.UniqueID]; ok {
		current = existing.Version
	}
	if current != wf.Version {
		return ErrConcurrencyConflict
	}

	wf.Version = current + 1
	s.workflows[wf.UniqueID] = wf.Clone()
	return nil
}

// Len returns the number of stored workflows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// StoreError wraps an I/O failure of the backing store. It is temporary: the
// message that triggered it should be redelivered, not quarantined.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("failure store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Temporary marks the error as transient.
func (e *StoreError) Temporary() bool { return true }
