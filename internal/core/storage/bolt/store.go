package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords   = []byte("records")    // big-endian ingest_seq -> record JSON
	bucketRecordIDs = []byte("record_ids") // kind \x00 id -> ingest_seq
)

const openTimeout = time.Second

// Store implements storage.RecordStore on an embedded BoltDB file.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("[Bolt] Record store opened", "path", path)
	return s, nil
}

// NewStore creates the buckets on db if needed.
func NewStore(db *bolt.DB) (*Store, error) {
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketRecordIDs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to create record buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRecord stores record under the next bucket sequence.
func (s *Store) SaveRecord(ctx context.Context, record *v1.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketRecordIDs)
		key := idKey(record)
		if ids.Get(key) != nil {
			return storage.ErrDuplicate
		}

		records := tx.Bucket(bucketRecords)
		next, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate ingest sequence: %w", err)
		}

		stored := *record
		stored.IngestSeq = int64(next)
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		if err := records.Put(itob(next), data); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}
		if err := ids.Put(key, itob(next)); err != nil {
			return fmt.Errorf("failed to index record id: %w", err)
		}
		seq = next
		return nil
	})
	if err != nil {
		return err
	}

	record.IngestSeq = int64(seq)
	slog.Debug("[Bolt] Saved record",
		"kind", record.Kind,
		"record_id", record.ID,
		"ingest_seq", seq)
	return nil
}

// ListRecordsAfterCursor scans records with ingest_seq > cursor in key order.
func (s *Store) ListRecordsAfterCursor(ctx context.Context, cursor int64, q storage.RecordQuery, limit int) ([]*v1.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cursor < 0 {
		cursor = 0
	}

	var out []*v1.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Seek(itob(uint64(cursor) + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec v1.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if q.Matches(&rec) {
				out = append(out, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	slog.Info("[Bolt] Record store closed")
	return nil
}

func idKey(r *v1.Record) []byte {
	return []byte(r.Kind + "\x00" + r.ID)
}

// itob encodes a sequence so byte order equals numeric order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
