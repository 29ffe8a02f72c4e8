package report

import (
	"context"
	"errors"
	"testing"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"github.com/dairytrack/dairytrack/internal/core/storage/memory"
	storagemocks "github.com/dairytrack/dairytrack/internal/mocks/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

func milkDefinition() coreagg.ReportDefinition {
	return coreagg.ReportDefinition{
		Name:       "milk_production",
		Title:      "Milk production",
		SourceKind: "milk.session",
		Headline:   "total",
		Metrics: []coreagg.Metric{
			{Name: "morning", Field: "morning_volume"},
			{Name: "evening", Field: "evening_volume"},
			{Name: "total", Field: "total_volume"},
		},
		DefaultGranularity: coreagg.GranularityDay,
	}
}

func nutritionDefinition() coreagg.ReportDefinition {
	return coreagg.ReportDefinition{
		Name:               "nutrition",
		SourceKind:         "feed.daily",
		DefaultGranularity: coreagg.GranularityMonth,
	}
}

func newTestService(t *testing.T, store storage.RecordStore, opts Options) *Service {
	t.Helper()
	defs, err := coreagg.NewStaticDefinitionRepository(milkDefinition(), nutritionDefinition())
	require.NoError(t, err)

	engine := coreagg.NewEngine(coreagg.EngineOptions{Location: time.UTC, WeekStart: time.Sunday})
	svc := NewService(engine, defs, store, opts)
	svc.nowFn = func() time.Time { return testNow }
	return svc
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	milk := func(id, cow, date string, morning, evening float64) {
		require.NoError(t, store.SaveRecord(ctx, &v1.Record{
			ID:    id,
			Kind:  "milk.session",
			CowID: cow,
			Date:  date,
			Values: map[string]interface{}{
				"morning_volume": decimal.NewFromFloat(morning).String(),
				"evening_volume": decimal.NewFromFloat(evening).String(),
				"total_volume":   decimal.NewFromFloat(morning + evening).String(),
			},
		}))
	}

	milk("m-0", "cow-1", "2024-02-10", 5, 5) // previous window
	milk("m-1", "cow-1", "2024-03-02", 4, 4)
	milk("m-2", "cow-2", "2024-03-05", 6, 6)
	milk("m-3", "cow-1", "2024-03-20", 5, 5)
	milk("m-4", "cow-1", "2024-04-02", 9, 9) // after the window

	require.NoError(t, store.SaveRecord(ctx, &v1.Record{
		ID:     "f-1",
		Kind:   "feed.daily",
		CowID:  "cow-1",
		Date:   "2024-03-03",
		Values: map[string]interface{}{"protein": "1.5", "fiber": "0.5"},
	}))
	require.NoError(t, store.SaveRecord(ctx, &v1.Record{
		ID:     "f-2",
		Kind:   "feed.daily",
		CowID:  "cow-2",
		Date:   "2024-03-04",
		Values: map[string]interface{}{"protein": "2.5", "calcium": "1"},
	}))
	return store
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestService_Report_CustomRange(t *testing.T) {
	svc := newTestService(t, seededStore(t), Options{})

	resp, err := svc.Report(context.Background(), ReportRequest{
		Report:      "milk_production",
		Start:       "2024-03-01",
		End:         "2024-03-31",
		Granularity: "week",
	})
	require.NoError(t, err)

	require.Equal(t, coreagg.PresetCustom, resp.Preset)
	require.Equal(t, coreagg.GranularityWeek, resp.Granularity)
	require.Equal(t, "2024-03-01", resp.Start)
	require.Equal(t, "2024-03-31", resp.End)
	// Fetch spans the previous window plus the current one.
	require.Equal(t, 4, resp.RecordsScanned)
	require.Zero(t, resp.SkippedRecords)

	require.Len(t, resp.Periods, 3)
	require.Equal(t, "2024-02-25", resp.Periods[0].BucketKey)
	require.Equal(t, "2024-03-03", resp.Periods[1].BucketKey)
	require.Equal(t, "2024-03-17", resp.Periods[2].BucketKey)
	requireDecimal(t, "12", resp.Periods[1].Metrics["total"])

	require.Equal(t, int64(3), resp.Summary.Count)
	requireDecimal(t, "30", resp.Summary.Total)
	requireDecimal(t, "10", resp.Summary.Average)
	requireDecimal(t, "12", resp.Summary.Peak)
	require.Equal(t, "2024-03-05", resp.Summary.PeakDate)

	requireDecimal(t, "10", resp.Comparison.PreviousTotal)
	requireDecimal(t, "30", resp.Comparison.CurrentTotal)
	requireDecimal(t, "200", resp.Comparison.PercentChange)
	require.Equal(t, coreagg.TrendUp, resp.Comparison.Trend)

	require.Len(t, resp.Distribution, 2)
	require.Equal(t, "morning", resp.Distribution[0].Metric)
	requireDecimal(t, "50", resp.Distribution[0].Percent)
}

func TestService_Report_CowFilter(t *testing.T) {
	svc := newTestService(t, seededStore(t), Options{})

	resp, err := svc.Report(context.Background(), ReportRequest{
		Report: "milk_production",
		Start:  "2024-03-01",
		End:    "2024-03-31",
		CowID:  "cow-1",
	})
	require.NoError(t, err)
	require.Equal(t, "cow-1", resp.CowID)
	require.Equal(t, coreagg.GranularityDay, resp.Granularity)
	require.Equal(t, int64(2), resp.Summary.Count)
	requireDecimal(t, "18", resp.Summary.Total)
	requireDecimal(t, "80", resp.Comparison.PercentChange)
}

func TestService_Report_Presets(t *testing.T) {
	svc := newTestService(t, seededStore(t), Options{})

	tests := []struct {
		name      string
		req       ReportRequest
		preset    coreagg.Preset
		start     string
		end       string
		g         coreagg.Granularity
		wantCount int64
	}{
		{"default is month", ReportRequest{}, coreagg.PresetMonth, "2024-03-01", "2024-03-31", coreagg.GranularityWeek, 3},
		{"week", ReportRequest{Preset: "week"}, coreagg.PresetWeek, "2024-03-10", "2024-03-16", coreagg.GranularityDay, 0},
		{"year per month", ReportRequest{Preset: "year"}, coreagg.PresetYear, "2024-01-01", "2024-12-31", coreagg.GranularityMonth, 5},
		{"explicit granularity wins", ReportRequest{Preset: "month", Granularity: "day"}, coreagg.PresetMonth, "2024-03-01", "2024-03-31", coreagg.GranularityDay, 3},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			req.Report = "milk_production"
			resp, err := svc.Report(context.Background(), req)
			require.NoError(t, err)
			require.Equal(t, tc.preset, resp.Preset)
			require.Equal(t, tc.start, resp.Start)
			require.Equal(t, tc.end, resp.End)
			require.Equal(t, tc.g, resp.Granularity)
			require.Equal(t, tc.wantCount, resp.Summary.Count)
		})
	}
}

func TestService_Report_DynamicMetrics(t *testing.T) {
	svc := newTestService(t, seededStore(t), Options{})

	resp, err := svc.Report(context.Background(), ReportRequest{
		Report: "nutrition",
		Start:  "2024-03-01",
		End:    "2024-03-31",
	})
	require.NoError(t, err)
	require.Equal(t, coreagg.GranularityMonth, resp.Granularity)
	require.Len(t, resp.Periods, 1)
	requireDecimal(t, "4", resp.Periods[0].Metrics["protein"])
	requireDecimal(t, "0.5", resp.Periods[0].Metrics["fiber"])
	requireDecimal(t, "1", resp.Periods[0].Metrics["calcium"])
	requireDecimal(t, "5.5", resp.Summary.Total)

	names := make([]string, 0, len(resp.Distribution))
	for _, share := range resp.Distribution {
		names = append(names, share.Metric)
	}
	require.Equal(t, []string{"calcium", "fiber", "protein"}, names)
}

func TestService_Report_Validation(t *testing.T) {
	svc := newTestService(t, memory.NewStore(), Options{})

	tests := []struct {
		name string
		req  ReportRequest
	}{
		{"missing report", ReportRequest{Start: "2024-03-01", End: "2024-03-31"}},
		{"start after end", ReportRequest{Report: "milk_production", Start: "2024-03-31", End: "2024-03-01"}},
		{"bad granularity", ReportRequest{Report: "milk_production", Start: "2024-03-01", End: "2024-03-31", Granularity: "hour"}},
		{"bad preset", ReportRequest{Report: "milk_production", Preset: "fortnight"}},
		{"custom without end", ReportRequest{Report: "milk_production", Preset: "custom", Start: "2024-03-01"}},
		{"bad date", ReportRequest{Report: "milk_production", Start: "March 1", End: "2024-03-31"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Report(context.Background(), tc.req)
			require.ErrorIs(t, err, ErrInvalidQuery)
		})
	}

	_, err := svc.Report(context.Background(), ReportRequest{Report: "missing", Start: "2024-03-01", End: "2024-03-31"})
	require.ErrorIs(t, err, coreagg.ErrReportNotFound)
}

func TestService_Report_PagesThroughStore(t *testing.T) {
	store := storagemocks.NewRecordStore(t)
	q := storage.RecordQuery{
		Kind:  "milk.session",
		Start: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	store.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(0), q, 2).
		Return([]*v1.Record{
			{ID: "a", Kind: "milk.session", Date: "2024-02-29", IngestSeq: 3, Values: map[string]interface{}{"total_volume": "4"}},
			{ID: "b", Kind: "milk.session", Date: "2024-03-01", IngestSeq: 8, Values: map[string]interface{}{"total_volume": "5"}},
		}, nil).
		Once()
	store.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(8), q, 2).
		Return([]*v1.Record{
			{ID: "c", Kind: "milk.session", Date: "not-a-date", IngestSeq: 9, Values: map[string]interface{}{"total_volume": "1"}},
		}, nil).
		Once()

	svc := newTestService(t, store, Options{FetchBatchSize: 2})
	resp, err := svc.Report(context.Background(), ReportRequest{Report: "milk_production", Start: "2024-03-01", End: "2024-03-01"})
	require.NoError(t, err)
	require.Equal(t, 3, resp.RecordsScanned)
	require.Equal(t, 1, resp.SkippedRecords)
	requireDecimal(t, "5", resp.Summary.Total)
	requireDecimal(t, "4", resp.Comparison.PreviousTotal)
	requireDecimal(t, "25", resp.Comparison.PercentChange)
}

func TestService_Report_ScanLimit(t *testing.T) {
	store := storagemocks.NewRecordStore(t)
	store.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(0), mock.Anything, 1).
		Return([]*v1.Record{
			{ID: "a", Kind: "milk.session", Date: "2024-03-01", IngestSeq: 1, Values: map[string]interface{}{"total_volume": "4"}},
		}, nil).
		Once()

	svc := newTestService(t, store, Options{FetchBatchSize: 1, MaxFetchIterations: 1})
	_, err := svc.Report(context.Background(), ReportRequest{Report: "milk_production", Start: "2024-03-01", End: "2024-03-01"})
	require.ErrorIs(t, err, ErrScanLimit)
}

func TestService_Report_StoreError(t *testing.T) {
	storeErr := errors.New("db failure")
	store := storagemocks.NewRecordStore(t)
	store.EXPECT().
		ListRecordsAfterCursor(mock.Anything, int64(0), mock.Anything, defaultFetchBatchSize).
		Return(nil, storeErr).
		Once()

	svc := newTestService(t, store, Options{})
	_, err := svc.Report(context.Background(), ReportRequest{Report: "milk_production", Start: "2024-03-01", End: "2024-03-31"})
	require.ErrorIs(t, err, storeErr)
	require.NotErrorIs(t, err, ErrInvalidQuery)
}

func TestService_Compute(t *testing.T) {
	svc := newTestService(t, storagemocks.NewRecordStore(t), Options{})

	resp, err := svc.Compute(context.Background(), ComputeRequest{
		ReportRequest: ReportRequest{Report: "milk_production", Start: "2024-03-01", End: "2024-03-07"},
		Records: []InlineRecord{
			{ID: "prev", Date: "2024-02-27", Values: map[string]interface{}{"total_volume": 10.0}},
			{ID: "a", Date: "2024-03-02", Values: map[string]interface{}{"morning_volume": 3.0, "total_volume": 6.0}},
			{ID: "b", Date: "2024-03-05T08:00:00Z", Values: map[string]interface{}{"morning_volume": "4", "total_volume": "9", "note": "ok"}},
			{ID: "c", Date: float64(1709251200000), Values: map[string]interface{}{"total_volume": 100.0}},
			{ID: "d", Date: "garbage", Values: map[string]interface{}{"total_volume": 100.0}},
			{ID: "e", Values: map[string]interface{}{"total_volume": 100.0}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 6, resp.RecordsScanned)
	require.Equal(t, 3, resp.SkippedRecords)
	require.Equal(t, int64(2), resp.Summary.Count)
	requireDecimal(t, "15", resp.Summary.Total)
	requireDecimal(t, "9", resp.Summary.Peak)
	require.Equal(t, "2024-03-05", resp.Summary.PeakDate)
	requireDecimal(t, "50", resp.Comparison.PercentChange)
}

func TestService_Dashboard(t *testing.T) {
	svc := newTestService(t, seededStore(t), Options{})

	resp, err := svc.Dashboard(context.Background(), DashboardRequest{Preset: "month"})
	require.NoError(t, err)
	require.Equal(t, coreagg.PresetMonth, resp.Preset)
	require.Equal(t, "2024-03-01", resp.Start)
	require.Len(t, resp.Reports, 2)
	require.Equal(t, "milk_production", resp.Reports[0].Report)
	require.Equal(t, "nutrition", resp.Reports[1].Report)
	requireDecimal(t, "30", resp.Reports[0].Summary.Total)
	requireDecimal(t, "5.5", resp.Reports[1].Summary.Total)

	_, err = svc.Dashboard(context.Background(), DashboardRequest{Preset: "decade"})
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestService_ListReports(t *testing.T) {
	svc := newTestService(t, memory.NewStore(), Options{})

	reports, err := svc.ListReports(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.Equal(t, "milk_production", reports[0].Name)
	require.False(t, reports[0].Dynamic)
	require.Len(t, reports[0].Metrics, 3)
	require.True(t, reports[1].Dynamic)
	require.NotNil(t, reports[1].Metrics)
}
