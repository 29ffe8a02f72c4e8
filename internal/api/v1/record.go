package v1

import (
	"fmt"
	"strings"
	"time"

	"github.com/dairytrack/dairytrack/internal/core/aggregation"
)

// Record is one farm observation on the wire: a milking session, a daily
// feed entry. It separates the envelope (who, what, when) from the values.
type Record struct {
	// ID is unique per Kind. Assigned by the ingestion service when omitted,
	// so retries of an identified record are idempotent.
	ID string `json:"id"`

	// Kind names the record type (e.g., "milk.session", "feed.daily").
	// Reports and schemas are keyed by it.
	Kind string `json:"kind"`

	// CowID scopes the record to one cow; empty for herd-wide records.
	CowID string `json:"cow_id,omitempty"`

	// Date is the calendar date of the observation. Accepted on input as
	// YYYY-MM-DD or a timestamp; stored and returned as YYYY-MM-DD.
	Date string `json:"date"`

	// Values are the named numeric amounts (volumes in litres, nutrients in kg).
	Values map[string]interface{} `json:"values"`

	// Metadata is free-form context (shift, device, note).
	Metadata map[string]string `json:"metadata,omitempty"`

	// RecordedBy is stamped from the request session, never from the body.
	RecordedBy string `json:"recorded_by,omitempty"`

	// IngestedAt is set by the ingestion service.
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is the store-assigned monotonic sequence used for cursor scans.
	IngestSeq int64 `json:"ingest_seq,omitempty"`
}

// Validate ensures the envelope is complete. Date and value parsing need the
// configured location and happen in ToAggregation.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return fmt.Errorf("kind is required")
	}
	if strings.TrimSpace(r.Date) == "" {
		return fmt.Errorf("date is required")
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("values must contain at least one entry")
	}
	return nil
}

// ToAggregation converts the wire record into an engine record, parsing the
// date in loc. Any non-numeric value is an error.
func (r *Record) ToAggregation(loc *time.Location) (aggregation.Record, error) {
	date, err := aggregation.ParseDate(r.Date, loc)
	if err != nil {
		return aggregation.Record{}, fmt.Errorf("date: %w", err)
	}

	values, rejected := aggregation.ExtractValues(r.Values)
	if len(rejected) > 0 {
		return aggregation.Record{}, fmt.Errorf("values must be numeric: %s", strings.Join(rejected, ", "))
	}

	return aggregation.Record{
		ID:       r.ID,
		Date:     date,
		GroupKey: r.CowID,
		Values:   values,
	}, nil
}
