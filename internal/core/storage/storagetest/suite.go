// Package storagetest holds behaviour checks shared by every RecordStore.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"github.com/stretchr/testify/require"
)

// RunRecordStoreTests exercises the RecordStore contract against stores
// produced by newStore. Each subtest gets a fresh, empty store.
func RunRecordStoreTests(t *testing.T, newStore func(t *testing.T) storage.RecordStore) {
	t.Helper()
	ctx := context.Background()

	rec := func(id, kind, cow, date string, volume float64) *v1.Record {
		return &v1.Record{
			ID:         id,
			Kind:       kind,
			CowID:      cow,
			Date:       date,
			Values:     map[string]interface{}{"total_volume": volume},
			IngestedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		}
	}

	t.Run("assigns increasing ingest sequence", func(t *testing.T) {
		s := newStore(t)
		a := rec("a", "milk.session", "cow-1", "2024-03-01", 1)
		b := rec("b", "milk.session", "cow-1", "2024-03-02", 2)
		require.NoError(t, s.SaveRecord(ctx, a))
		require.NoError(t, s.SaveRecord(ctx, b))
		require.Greater(t, a.IngestSeq, int64(0))
		require.Greater(t, b.IngestSeq, a.IngestSeq)
	})

	t.Run("duplicate kind and id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveRecord(ctx, rec("a", "milk.session", "", "2024-03-01", 1)))
		require.ErrorIs(t, s.SaveRecord(ctx, rec("a", "milk.session", "", "2024-03-05", 9)), storage.ErrDuplicate)
		// Same id under another kind is a different record.
		require.NoError(t, s.SaveRecord(ctx, rec("a", "feed.daily", "", "2024-03-01", 1)))
	})

	t.Run("cursor paging visits every record once", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 7; i++ {
			require.NoError(t, s.SaveRecord(ctx, rec(fmt.Sprintf("r%d", i), "milk.session", "", "2024-03-01", float64(i))))
		}

		var seen []string
		var cursor int64
		for {
			page, err := s.ListRecordsAfterCursor(ctx, cursor, storage.RecordQuery{}, 3)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			require.LessOrEqual(t, len(page), 3)
			for _, r := range page {
				require.Greater(t, r.IngestSeq, cursor)
				cursor = r.IngestSeq
				seen = append(seen, r.ID)
			}
		}
		require.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "r5", "r6"}, seen)
	})

	t.Run("filters by kind cow and date", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveRecord(ctx, rec("1", "milk.session", "cow-1", "2024-02-29", 1)))
		require.NoError(t, s.SaveRecord(ctx, rec("2", "milk.session", "cow-1", "2024-03-01", 1)))
		require.NoError(t, s.SaveRecord(ctx, rec("3", "milk.session", "cow-2", "2024-03-02", 1)))
		require.NoError(t, s.SaveRecord(ctx, rec("4", "feed.daily", "cow-1", "2024-03-02", 1)))
		require.NoError(t, s.SaveRecord(ctx, rec("5", "milk.session", "cow-1", "2024-03-31", 1)))
		require.NoError(t, s.SaveRecord(ctx, rec("6", "milk.session", "cow-1", "2024-04-01", 1)))

		q := storage.RecordQuery{
			Kind:  "milk.session",
			CowID: "cow-1",
			Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		}
		got, err := s.ListRecordsAfterCursor(ctx, 0, q, 100)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		require.Equal(t, []string{"2", "5"}, ids)
	})

	t.Run("round trips envelope and values", func(t *testing.T) {
		s := newStore(t)
		in := rec("x", "milk.session", "cow-9", "2024-03-03", 4.5)
		in.RecordedBy = "farmer-1"
		in.Metadata = map[string]string{"shift": "evening"}
		require.NoError(t, s.SaveRecord(ctx, in))

		got, err := s.ListRecordsAfterCursor(ctx, 0, storage.RecordQuery{Kind: "milk.session"}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "cow-9", got[0].CowID)
		require.Equal(t, "2024-03-03", got[0].Date)
		require.Equal(t, "farmer-1", got[0].RecordedBy)
		require.Equal(t, "evening", got[0].Metadata["shift"])
		require.Equal(t, 4.5, got[0].Values["total_volume"])
		require.Equal(t, in.IngestSeq, got[0].IngestSeq)
		require.True(t, in.IngestedAt.Equal(got[0].IngestedAt))
	})
}
