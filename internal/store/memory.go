package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent records in process memory. It is used
// when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	limit   int
	nextID  int64
	now     func() time.Time
}

// NewMemoryStore creates a store holding at most limit records
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryStore{
		records: make([]Record, 0, limit),
		limit:   limit,
		now:     time.Now,
	}
}

// RecordGeneration implements Store
func (s *MemoryStore) RecordGeneration(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	rec.ID = s.nextID
	rec.CreatedAt = s.now()

	if len(s.records) == s.limit {
		copy(s.records, s.records[1:])
		s.records = s.records[:len(s.records)-1]
	}
	s.records = append(s.records, *rec)
	return nil
}

// Stats implements Store
func (s *MemoryStore) Stats(_ context.Context, since time.Time) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := newStats(since)
	for _, r := range s.records {
		if r.CreatedAt.Before(since) {
			continue
		}
		stats.Total++
		stats.ByState[r.State]++
		stats.Fragments += r.Fragments
		stats.Bytes += r.Bytes
	}
	return stats, nil
}

// Len returns the number of retained records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
