// Package storage keeps forensic copies of messages the pipeline could not
// import: a write-once record store and a plain-text file per record.
package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"faultline/internal/models"
)

var (
	ErrRecordNotFound = errors.New("import failure record not found")
	ErrRecordExists   = errors.New("import failure record already exists")
)

// RecordStore persists ImportFailureRecords. Records are never updated.
type RecordStore interface {
	Save(ctx context.Context, rec *models.ImportFailureRecord) error
	Get(ctx context.Context, id uuid.UUID) (*models.ImportFailureRecord, error)
	// List returns up to limit record ids, newest first.
	List(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// MemoryRecordStore is an in-process RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*models.ImportFailureRecord
	order   []uuid.UUID
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[uuid.UUID]*models.ImportFailureRecord)}
}

func (s *MemoryRecordStore) Save(ctx context.Context, rec *models.ImportFailureRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return ErrRecordExists
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryRecordStore) Get(ctx context.Context, id uuid.UUID) (*models.ImportFailureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryRecordStore) List(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.order[i])
	}
	return out, nil
}
