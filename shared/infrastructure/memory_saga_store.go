package infrastructure

import (
	"context"
	"sync"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/draftea/order-orchestrator/shared/saga"
)

// MemorySagaStore implements saga.Persistence in process memory. It is the
// backing store for tests and local wiring and enforces the same optimistic
// version check the Postgres adapter does, so single-writer violations show
// up in tests too.
type MemorySagaStore struct {
	mux     sync.RWMutex
	records map[models.ID]*saga.Record
}

// NewMemorySagaStore creates an empty in-memory saga store
func NewMemorySagaStore() *MemorySagaStore {
	return &MemorySagaStore{
		records: make(map[models.ID]*saga.Record),
	}
}

var _ saga.Persistence = (*MemorySagaStore)(nil)

// Save upserts the record. A record can only be written with a version that
// is exactly one ahead of the stored one.
func (s *MemorySagaStore) Save(_ context.Context, record *saga.Record) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	existing, ok := s.records[record.ID]
	if ok && record.Version.Value != existing.Version.Value+1 {
		return saga.ErrVersionConflict
	}
	if !ok && record.Version.Value != 1 {
		return saga.ErrVersionConflict
	}

	s.records[record.ID] = record.Clone()
	return nil
}

// FindByID returns the record for the given saga id.
func (s *MemorySagaStore) FindByID(_ context.Context, id models.ID) (*saga.Record, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, saga.ErrRecordNotFound
	}
	return record.Clone(), nil
}

// FindIncomplete returns all records that are neither terminal nor
// dead-lettered.
func (s *MemorySagaStore) FindIncomplete(_ context.Context) ([]*saga.Record, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	var out []*saga.Record
	for _, record := range s.records {
		if record.Incomplete() {
			out = append(out, record.Clone())
		}
	}
	return out, nil
}

// FindByCorrelationID returns all records carrying the given external
// reference.
func (s *MemorySagaStore) FindByCorrelationID(_ context.Context, correlationID models.ID) ([]*saga.Record, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	var out []*saga.Record
	for _, record := range s.records {
		if record.CorrelationID == correlationID {
			out = append(out, record.Clone())
		}
	}
	return out, nil
}

// MarkDeadLettered flags the record so recovery sweeps stop retrying it.
func (s *MemorySagaStore) MarkDeadLettered(_ context.Context, id models.ID) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	record, ok := s.records[id]
	if !ok {
		return saga.ErrRecordNotFound
	}
	record.DeadLettered = true
	record.Timestamps = record.Timestamps.Update()
	return nil
}
