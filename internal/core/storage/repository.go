package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/aggregation"
)

// ErrDuplicate is returned when a record with the same (kind, id) already exists.
var ErrDuplicate = errors.New("record already exists")

// RecordQuery scopes a record scan. Empty strings and zero dates are unbounded.
// Start and End are inclusive calendar dates.
type RecordQuery struct {
	Kind  string
	CowID string
	Start time.Time
	End   time.Time
}

// StartDate returns Start as YYYY-MM-DD, or "" when unbounded.
func (q RecordQuery) StartDate() string { return formatDate(q.Start) }

// EndDate returns End as YYYY-MM-DD, or "" when unbounded.
func (q RecordQuery) EndDate() string { return formatDate(q.End) }

// Matches reports whether a stored record falls inside the query scope.
// Stored dates are normalised YYYY-MM-DD, so string comparison orders them.
func (q RecordQuery) Matches(r *v1.Record) bool {
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.CowID != "" && r.CowID != q.CowID {
		return false
	}
	if start := q.StartDate(); start != "" && r.Date < start {
		return false
	}
	if end := q.EndDate(); end != "" && r.Date > end {
		return false
	}
	return true
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(aggregation.DateLayout)
}

// RecordStore defines the interface for storing and retrieving farm records.
type RecordStore interface {
	// SaveRecord persists a record and populates its IngestSeq.
	// Returns ErrDuplicate when (kind, id) is already stored.
	SaveRecord(ctx context.Context, record *v1.Record) error

	// ListRecordsAfterCursor fetches records with ingest_seq > cursor matching q,
	// in strict ingest_seq order. cursor=0 means "from the beginning".
	ListRecordsAfterCursor(ctx context.Context, cursor int64, q RecordQuery, limit int) ([]*v1.Record, error)
}
