package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	v1 "github.com/dairytrack/dairytrack/internal/api/v1"
	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
	"github.com/dairytrack/dairytrack/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFetchBatchSize     = 5000
	defaultMaxFetchIterations = 1000
	dashboardConcurrency      = 4
)

var (
	// ErrInvalidQuery marks request validation errors that should return HTTP 400.
	ErrInvalidQuery = errors.New("invalid report query")

	// ErrScanLimit is returned when a record scan needs more batches than allowed.
	ErrScanLimit = errors.New("record scan exceeded maximum iterations")
)

// Options tunes record fetching. Zero values fall back to defaults.
type Options struct {
	FetchBatchSize     int
	MaxFetchIterations int
}

// Service renders report definitions into aggregated reports.
// It reads records from the store, or from the request for compute.
type Service struct {
	engine        *coreagg.Engine
	defs          coreagg.DefinitionRepository
	store         storage.RecordStore
	batchSize     int
	maxIterations int
	nowFn         func() time.Time
}

// NewService creates a new report service.
func NewService(engine *coreagg.Engine, defs coreagg.DefinitionRepository, store storage.RecordStore, opts Options) *Service {
	if opts.FetchBatchSize <= 0 {
		opts.FetchBatchSize = defaultFetchBatchSize
	}
	if opts.MaxFetchIterations <= 0 {
		opts.MaxFetchIterations = defaultMaxFetchIterations
	}
	return &Service{
		engine:        engine,
		defs:          defs,
		store:         store,
		batchSize:     opts.FetchBatchSize,
		maxIterations: opts.MaxFetchIterations,
		nowFn:         time.Now,
	}
}

// ListReports describes every loaded report definition.
func (s *Service) ListReports(ctx context.Context) ([]ReportInfo, error) {
	defs, err := s.defs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list report definitions: %w", err)
	}
	out := make([]ReportInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, newReportInfo(def))
	}
	return out, nil
}

// Report builds one report from stored records. The fetch covers the
// previous window too, so the comparison sees real history.
func (s *Service) Report(ctx context.Context, req ReportRequest) (*ReportResponse, error) {
	def, err := s.definition(ctx, req.Report)
	if err != nil {
		return nil, err
	}
	w, err := s.resolveWindow(req, def.DefaultGranularity)
	if err != nil {
		return nil, err
	}

	days := coreagg.DaysInclusive(w.start, w.end)
	q := storage.RecordQuery{
		Kind:  def.SourceKind,
		CowID: req.CowID,
		Start: coreagg.AddDays(w.start, -days),
		End:   w.end,
	}

	var (
		records []coreagg.Record
		scanned int
		skipped int
	)
	err = s.scanRecords(ctx, q, func(batch []*v1.Record) {
		for _, rec := range batch {
			scanned++
			parsed, convErr := rec.ToAggregation(s.engine.Location())
			if convErr != nil {
				skipped++
				slog.Warn("[Report] Skipping unreadable stored record",
					"report", def.Name,
					"record_id", rec.ID,
					"error", convErr)
				continue
			}
			records = append(records, parsed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("fetch records for report %q: %w", def.Name, err)
	}

	return s.render(def, w, req.CowID, records, scanned, skipped)
}

// Compute runs the report pipeline over records supplied inline. Records
// whose date is missing or unparseable are skipped and counted; values
// that are not numeric are ignored.
func (s *Service) Compute(ctx context.Context, req ComputeRequest) (*ReportResponse, error) {
	def, err := s.definition(ctx, req.Report)
	if err != nil {
		return nil, err
	}
	w, err := s.resolveWindow(req.ReportRequest, def.DefaultGranularity)
	if err != nil {
		return nil, err
	}

	records := make([]coreagg.Record, 0, len(req.Records))
	skipped := 0
	for i, in := range req.Records {
		date, ok := s.inlineDate(in.Date)
		if !ok {
			skipped++
			slog.Warn("[Report] Skipping inline record with unparseable date",
				"report", def.Name,
				"index", i,
				"record_id", in.ID,
				"date", in.Date)
			continue
		}
		values, _ := coreagg.ExtractValues(in.Values)
		records = append(records, coreagg.Record{
			ID:       in.ID,
			Date:     date,
			GroupKey: in.CowID,
			Values:   values,
		})
	}

	return s.render(def, w, req.CowID, records, len(req.Records), skipped)
}

// Dashboard builds every report for one window concurrently.
func (s *Service) Dashboard(ctx context.Context, req DashboardRequest) (*DashboardResponse, error) {
	defs, err := s.defs.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list report definitions: %w", err)
	}

	// Validate the shared window before fanning out.
	w, err := s.resolveWindow(ReportRequest{Start: req.Start, End: req.End, Preset: req.Preset}, coreagg.GranularityDay)
	if err != nil {
		return nil, err
	}

	reports := make([]ReportResponse, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dashboardConcurrency)
	for i, def := range defs {
		g.Go(func() error {
			resp, err := s.Report(gctx, ReportRequest{
				Report: def.Name,
				Start:  req.Start,
				End:    req.End,
				Preset: req.Preset,
				CowID:  req.CowID,
			})
			if err != nil {
				return err
			}
			reports[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &DashboardResponse{
		Preset:      w.preset,
		Start:       w.start.Format(coreagg.DateLayout),
		End:         w.end.Format(coreagg.DateLayout),
		CowID:       req.CowID,
		Reports:     reports,
		GeneratedAt: s.nowFn().UTC(),
	}, nil
}

func (s *Service) definition(ctx context.Context, name string) (*coreagg.ReportDefinition, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidQueryf("report is required")
	}
	return s.defs.Get(ctx, name)
}

func (s *Service) render(def *coreagg.ReportDefinition, w window, cowID string, records []coreagg.Record, scanned, skipped int) (*ReportResponse, error) {
	result, err := s.engine.Aggregate(records, def.Query(w.start, w.end, w.granularity, cowID))
	if err != nil {
		if errors.Is(err, coreagg.ErrInvalidGranularity) || errors.Is(err, coreagg.ErrUnknownMetric) || errors.Is(err, coreagg.ErrInvalidHeadline) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("aggregate report %q: %w", def.Name, err)
	}

	slog.Debug("[Report] Rendered report",
		"report", def.Name,
		"granularity", w.granularity,
		"start", w.start.Format(coreagg.DateLayout),
		"end", w.end.Format(coreagg.DateLayout),
		"records_scanned", scanned,
		"skipped_records", skipped,
		"periods", len(result.Periods))

	return &ReportResponse{
		Report:         def.Name,
		Title:          def.Title,
		SourceKind:     def.SourceKind,
		Headline:       def.Headline,
		Preset:         w.preset,
		Granularity:    w.granularity,
		Start:          w.start.Format(coreagg.DateLayout),
		End:            w.end.Format(coreagg.DateLayout),
		CowID:          cowID,
		RecordsScanned: scanned,
		SkippedRecords: skipped,
		GeneratedAt:    s.nowFn().UTC(),
		Result:         *result,
	}, nil
}

// resolveWindow turns preset/start/end/granularity into calendar bounds.
// A preset supplies a range and a default granularity; an explicit
// granularity always wins.
func (s *Service) resolveWindow(req ReportRequest, fallback coreagg.Granularity) (window, error) {
	preset, err := coreagg.ParsePreset(req.Preset)
	if err != nil {
		return window{}, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
	}
	loc := s.engine.Location()

	hasRange := req.Start != "" || req.End != ""
	if strings.TrimSpace(req.Preset) == "" && !hasRange {
		preset = coreagg.PresetMonth
	}

	var w window
	if pr, ok := coreagg.ResolvePreset(preset, s.nowFn(), s.engine.WeekStart(), loc); ok {
		w = window{preset: preset, start: pr.Start, end: pr.End, granularity: pr.Granularity}
	} else {
		if req.Start == "" || req.End == "" {
			return window{}, invalidQueryf("start and end are required for a custom range")
		}
		start, err := coreagg.ParseDate(req.Start, loc)
		if err != nil {
			return window{}, invalidQueryf("start: %v", err)
		}
		end, err := coreagg.ParseDate(req.End, loc)
		if err != nil {
			return window{}, invalidQueryf("end: %v", err)
		}
		if fallback == "" {
			fallback = coreagg.GranularityDay
		}
		w = window{preset: coreagg.PresetCustom, start: start, end: end, granularity: fallback}
	}

	if w.start.After(w.end) {
		return window{}, invalidQueryf("start must not be after end")
	}

	if req.Granularity != "" {
		g, err := coreagg.ParseGranularity(req.Granularity)
		if err != nil {
			return window{}, fmt.Errorf("%w: %s", ErrInvalidQuery, err)
		}
		w.granularity = g
	}
	return w, nil
}

func (s *Service) inlineDate(raw interface{}) (time.Time, bool) {
	str, ok := raw.(string)
	if !ok {
		return time.Time{}, false
	}
	date, err := coreagg.ParseDate(str, s.engine.Location())
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// scanRecords pages through the store in ingest order until a short batch.
func (s *Service) scanRecords(ctx context.Context, q storage.RecordQuery, consume func([]*v1.Record)) error {
	var cursor int64
	total := 0

	for iterations := 0; ; iterations++ {
		// Safety limit: prevent unbounded scanning of a huge range
		if iterations >= s.maxIterations {
			slog.Warn("[Report] Record scan reached maximum iteration limit",
				"kind", q.Kind,
				"cow_id", q.CowID,
				"iterations", iterations,
				"records_scanned", total,
				"max_iterations", s.maxIterations)
			return fmt.Errorf("%w (%d batches, %d records)", ErrScanLimit, s.maxIterations, total)
		}

		batch, err := s.store.ListRecordsAfterCursor(ctx, cursor, q, s.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		consume(batch)
		total += len(batch)

		cursor = batch[len(batch)-1].IngestSeq
		if len(batch) < s.batchSize {
			return nil
		}
	}
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
