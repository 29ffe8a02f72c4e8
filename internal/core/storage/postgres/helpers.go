package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/aggregation"
)

// marshalRecordJSON marshals a record's metadata and values fields to JSON.
// Nil metadata produces nil (SQL NULL) rather than JSON "null" string.
func marshalRecordJSON(record *v1.Record) (metadataJSON, valuesJSON []byte, err error) {
	if len(record.Metadata) > 0 {
		metadataJSON, err = json.Marshal(record.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	valuesJSON, err = json.Marshal(record.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal values: %w", err)
	}

	return metadataJSON, valuesJSON, nil
}

// nullableDate maps an unbounded ("") date filter to SQL NULL.
func nullableDate(date string) interface{} {
	if date == "" {
		return nil
	}
	return date
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecordRow scans a database row into a Record.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanRecordRow(row scanner) (*v1.Record, error) {
	var rec v1.Record
	var recordDate time.Time
	var metadataJSON, valuesJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.CowID,
		&recordDate,
		&rec.RecordedBy,
		&rec.IngestedAt,
		&metadataJSON,
		&valuesJSON,
		&rec.IngestSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan record row: %w", err)
	}

	// DATE columns come back as midnight UTC; the calendar date is what matters.
	rec.Date = recordDate.UTC().Format(aggregation.DateLayout)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if err := json.Unmarshal(valuesJSON, &rec.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal values: %w", err)
	}

	return &rec, nil
}
