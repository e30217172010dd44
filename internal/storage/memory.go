package storage

import (
	"context"
	"sync"

	"hemicycle/internal/models"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]map[string]models.DeputyRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]map[string]models.DeputyRecord)}
}

func (s *MemoryStore) BatchGet(_ context.Context, ids []string, legislature string) ([]models.DeputyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.rows[legislature]
	var out []models.DeputyRecord
	for _, id := range ids {
		if d, ok := table[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, legislature string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[legislature]), nil
}

func (s *MemoryStore) SaveDeputies(_ context.Context, legislature string, records []models.DeputyRecord) (int, error) {
	records = validRecords(records)

	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.rows[legislature]
	if !ok {
		table = make(map[string]models.DeputyRecord)
		s.rows[legislature] = table
	}
	for _, d := range records {
		table[d.ID] = d
	}
	return len(records), nil
}

func (s *MemoryStore) Close() error { return nil }
