package notify

import (
	"context"
	"encoding/json"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
)

// RecordIngested is published after a record has been stored.
type RecordIngested struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	CowID      string    `json:"cow_id,omitempty"`
	Date       string    `json:"date"`
	IngestSeq  int64     `json:"ingest_seq"`
	IngestedAt time.Time `json:"ingested_at"`
}

// NewRecordIngested builds the message for a stored record.
func NewRecordIngested(rec *v1.Record) RecordIngested {
	return RecordIngested{
		ID:         rec.ID,
		Kind:       rec.Kind,
		CowID:      rec.CowID,
		Date:       rec.Date,
		IngestSeq:  rec.IngestSeq,
		IngestedAt: rec.IngestedAt,
	}
}

func (m RecordIngested) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Notifier announces ingested records to downstream consumers.
type Notifier interface {
	NotifyRecordIngested(ctx context.Context, msg RecordIngested) error
	Close() error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) NotifyRecordIngested(context.Context, RecordIngested) error { return nil }
func (Noop) Close() error                                               { return nil }
