package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
)

// RecordStore keeps records keyed by station id.
type RecordStore struct {
	mu      sync.RWMutex
	records map[int64]crawler.Record
	upserts int
}

var _ crawler.RecordStore = (*RecordStore)(nil)

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[int64]crawler.Record)}
}

// Exists reports whether a record for stationID has been stored.
func (s *RecordStore) Exists(ctx context.Context, stationID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists %d: %w", stationID, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[stationID]
	return ok, nil
}

// Upsert replaces any previous record for the same station.
func (s *RecordStore) Upsert(ctx context.Context, record crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upsert %d: %w", record.StationID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.StationID] = record
	s.upserts++
	return nil
}

// Get returns the stored record for stationID.
func (s *RecordStore) Get(stationID int64) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[stationID]
	return rec, ok
}

// Len returns the number of distinct stations stored.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Upserts counts Upsert calls, including replacements.
func (s *RecordStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Close is a no-op.
func (s *RecordStore) Close() error { return nil }
