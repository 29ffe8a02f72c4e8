package memory

import (
	"context"
	"maps"
	"sync"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/storage"
)

// Store is an in-process storage.RecordStore. Records live in ingest order,
// so a cursor scan is a walk from the first sequence past the cursor.
type Store struct {
	mu      sync.RWMutex
	records []*v1.Record
	ids     map[string]struct{} // kind + "\x00" + id
	seq     int64
}

// NewStore creates an empty in-memory record store.
func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// SaveRecord stores a copy of record and assigns the next ingest sequence.
func (s *Store) SaveRecord(_ context.Context, record *v1.Record) error {
	key := record.Kind + "\x00" + record.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[key]; exists {
		return storage.ErrDuplicate
	}

	s.seq++
	record.IngestSeq = s.seq

	s.records = append(s.records, cloneRecord(record))
	s.ids[key] = struct{}{}
	return nil
}

// ListRecordsAfterCursor returns copies of matching records with ingest_seq > cursor.
func (s *Store) ListRecordsAfterCursor(ctx context.Context, cursor int64, q storage.RecordQuery, limit int) ([]*v1.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Sequences are 1-based and dense, so cursor is also the slice offset.
	start := int(cursor)
	if start < 0 {
		start = 0
	}

	var out []*v1.Record
	for i := start; i < len(s.records) && (limit <= 0 || len(out) < limit); i++ {
		rec := s.records[i]
		if !q.Matches(rec) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// cloneRecord copies r including its Values and Metadata maps.
func cloneRecord(r *v1.Record) *v1.Record {
	cp := *r
	cp.Values = maps.Clone(r.Values)
	cp.Metadata = maps.Clone(r.Metadata)
	return &cp
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
