package aggregation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownMetric is returned when a query names a metric it does not declare.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrInvalidHeadline is returned when the headline metric is not additive
	// (min or max), so periods could not add up to the summary.
	ErrInvalidHeadline = errors.New("headline metric must use sum or count")
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// MetricSelector reads the headline value of a record.
type MetricSelector func(Record) decimal.Decimal

// FieldSelector selects one record value; missing values read as zero.
func FieldSelector(field string) MetricSelector {
	return func(r Record) decimal.Decimal {
		return r.Values[field]
	}
}

// SumSelector selects the sum of the named values, or of every value when
// no names are given.
func SumSelector(fields ...string) MetricSelector {
	return func(r Record) decimal.Decimal {
		total := decimal.Zero
		if len(fields) == 0 {
			for _, v := range r.Values {
				total = total.Add(v)
			}
			return total
		}
		for _, f := range fields {
			total = total.Add(r.Values[f])
		}
		return total
	}
}

// CountSelector reads every record as 1.
func CountSelector() MetricSelector {
	return func(Record) decimal.Decimal { return one }
}

// MetricSelectorFor returns the per-record contribution of an additive
// metric: its value for sum, 1 for count. ok is false for min and max.
func MetricSelectorFor(m Metric) (sel MetricSelector, ok bool) {
	switch m.EffectiveOperator() {
	case OpSum:
		return FieldSelector(m.SourceField()), true
	case OpCount:
		return CountSelector(), true
	}
	return nil, false
}

// EngineOptions configures calendar semantics of an Engine.
type EngineOptions struct {
	Location  *time.Location // defaults to time.Local
	WeekStart time.Weekday   // zero value is Sunday
	Locale    string         // label locale, defaults to English
}

// Engine is the time-series aggregator. It holds only immutable calendar
// configuration, so one Engine is safe for concurrent use and every call is
// a pure function of its arguments.
type Engine struct {
	loc       *time.Location
	weekStart time.Weekday
	labeler   Labeler
}

// NewEngine creates an aggregation engine.
func NewEngine(opts EngineOptions) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		loc:       loc,
		weekStart: opts.WeekStart,
		labeler:   NewLabeler(opts.Locale),
	}
}

// Location returns the zone calendar dates are interpreted in.
func (e *Engine) Location() *time.Location { return e.loc }

// WeekStart returns the configured first day of the week.
func (e *Engine) WeekStart() time.Weekday { return e.weekStart }

// FilterByRange keeps records whose calendar day lies in [start, end],
// preserving input order. Bounds are truncated to their day first, so a
// record stamped at any hour of end is included. start after end yields an
// empty result. Records without a date never match.
func (e *Engine) FilterByRange(records []Record, start, end time.Time) []Record {
	out := make([]Record, 0, len(records))
	from := TruncateToDay(start, e.loc)
	to := TruncateToDay(end, e.loc)
	if from.After(to) {
		return out
	}

	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		day := TruncateToDay(r.Date, e.loc)
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FilterByGroup keeps records of one cow. An empty key keeps everything.
func (e *Engine) FilterByGroup(records []Record, groupKey string) []Record {
	if groupKey == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if r.GroupKey == groupKey {
			out = append(out, r)
		}
	}
	return out
}

// bucket is the mutable fold state of one period.
type bucket struct {
	start       time.Time
	values      map[string]decimal.Decimal
	initialized map[string]bool
	count       int64
}

// GroupByInterval folds records into ascending periods of granularity g.
//
// With declared metrics each one is folded by its own operator; a sum treats
// a missing value as zero, min and max skip it, count counts every record.
// With no metrics every value name present in the input is summed, which is
// how variable nutrient lists are reported. Every period carries every
// metric name, zero-filled, so charts get aligned series.
func (e *Engine) GroupByInterval(records []Record, g Granularity, metrics []Metric) ([]Period, error) {
	if err := validateGranularity(g); err != nil {
		return nil, err
	}
	for _, m := range metrics {
		if !ValidOperator(m.EffectiveOperator()) {
			return nil, fmt.Errorf("metric %q: unsupported operator %q", m.Name, m.Operator)
		}
	}

	buckets := make(map[time.Time]*bucket)
	seen := make(map[string]struct{})

	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		start := BucketFor(TruncateToDay(r.Date, e.loc), g, e.weekStart)

		b, ok := buckets[start]
		if !ok {
			b = &bucket{
				start:       start,
				values:      make(map[string]decimal.Decimal),
				initialized: make(map[string]bool),
			}
			buckets[start] = b
		}
		b.count++

		if len(metrics) == 0 {
			for name, v := range r.Values {
				seen[name] = struct{}{}
				b.fold(name, Operators[OpSum], v)
			}
			continue
		}

		for _, m := range metrics {
			op := m.EffectiveOperator()
			v, present := r.Values[m.SourceField()]
			if !present && (op == OpMin || op == OpMax) {
				continue
			}
			b.fold(m.Name, Operators[op], v)
		}
	}

	names := make([]string, 0, len(metrics))
	if len(metrics) == 0 {
		for name := range seen {
			names = append(names, name)
		}
	} else {
		for _, m := range metrics {
			names = append(names, m.Name)
		}
	}

	periods := make([]Period, 0, len(buckets))
	for _, b := range buckets {
		out := make(map[string]decimal.Decimal, len(names))
		for _, name := range names {
			out[name] = b.values[name] // zero value is decimal.Zero
		}
		periods = append(periods, Period{
			BucketKey:   BucketKey(b.start, g),
			Label:       e.labeler.Label(b.start, g),
			Start:       b.start,
			End:         BucketLastDay(b.start, g),
			Metrics:     out,
			RecordCount: b.count,
		})
	}

	sort.Slice(periods, func(i, j int) bool {
		return periods[i].Start.Before(periods[j].Start)
	})

	return periods, nil
}

func (b *bucket) fold(name string, agg Aggregator, v decimal.Decimal) {
	if !b.initialized[name] {
		b.values[name] = agg.Initial(v)
		b.initialized[name] = true
		return
	}
	b.values[name] = agg.Apply(b.values[name], v)
}

// ComputeSummary derives total, average and peak from raw records.
// The peak is the first record holding the maximum value; with no records
// the peak date is PeakDateNA and everything else is zero.
func (e *Engine) ComputeSummary(records []Record, sel MetricSelector) SummaryStats {
	stats := SummaryStats{
		Total:    decimal.Zero,
		Average:  decimal.Zero,
		Peak:     decimal.Zero,
		PeakDate: PeakDateNA,
	}

	for _, r := range records {
		if r.Date.IsZero() {
			continue
		}
		v := sel(r)
		stats.Count++
		stats.Total = stats.Total.Add(v)
		if stats.Count == 1 || v.GreaterThan(stats.Peak) {
			stats.Peak = v
			stats.PeakDate = TruncateToDay(r.Date, e.loc).Format(DateLayout)
		}
	}

	if stats.Count > 0 {
		stats.Average = stats.Total.Div(decimal.NewFromInt(stats.Count))
	}
	return stats
}

// CompareWindows compares the total of [currentStart, currentEnd] with the
// total of the equally long window ending the day before currentStart. Both
// totals come from records, so records must include the previous window.
func (e *Engine) CompareWindows(records []Record, currentStart, currentEnd time.Time, sel MetricSelector) ComparisonResult {
	cs := TruncateToDay(currentStart, e.loc)
	ce := TruncateToDay(currentEnd, e.loc)

	res := ComparisonResult{
		CurrentStart:  cs,
		CurrentEnd:    ce,
		CurrentTotal:  decimal.Zero,
		PreviousTotal: decimal.Zero,
		PercentChange: decimal.Zero,
		Trend:         TrendNeutral,
	}

	days := DaysInclusive(cs, ce)
	if days == 0 {
		res.PreviousStart, res.PreviousEnd = cs, cs
		return res
	}
	res.PreviousStart = AddDays(cs, -days)
	res.PreviousEnd = AddDays(cs, -1)

	res.CurrentTotal = sumSelected(e.FilterByRange(records, cs, ce), sel)
	res.PreviousTotal = sumSelected(e.FilterByRange(records, res.PreviousStart, res.PreviousEnd), sel)

	change := PercentChange(res.CurrentTotal, res.PreviousTotal)
	res.PercentChange = change.Round(2)
	res.Trend = TrendOf(change)
	return res
}

// PercentChange returns (current - previous) / previous * 100. A zero
// baseline yields 100 when current is positive and 0 otherwise.
func PercentChange(current, previous decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred)
}

// TrendOf maps the sign of a change to a Trend.
func TrendOf(change decimal.Decimal) Trend {
	switch change.Sign() {
	case 1:
		return TrendUp
	case -1:
		return TrendDown
	default:
		return TrendNeutral
	}
}

// Distribution returns each named metric's share of the grand total across
// periods, in the order given. A zero grand total gives zero percentages.
func Distribution(periods []Period, names []string) []Share {
	totals := make([]decimal.Decimal, len(names))
	grand := decimal.Zero
	for i, name := range names {
		sum := decimal.Zero
		for _, p := range periods {
			sum = sum.Add(p.Metrics[name])
		}
		totals[i] = sum
		grand = grand.Add(sum)
	}

	shares := make([]Share, 0, len(names))
	for i, name := range names {
		pct := decimal.Zero
		if !grand.IsZero() {
			pct = totals[i].Div(grand).Mul(hundred).Round(2)
		}
		shares = append(shares, Share{Metric: name, Value: totals[i], Percent: pct})
	}
	return shares
}

// Aggregate runs the whole pipeline for one report: cow filter, range
// filter, bucketing, summary, comparison and distribution.
//
// Periods and summary are built from records inside [q.Start, q.End]. The
// comparison sees every record of the cow, so callers should supply the
// previous window's history as well.
func (e *Engine) Aggregate(records []Record, q Query) (*Result, error) {
	if err := validateGranularity(q.Granularity); err != nil {
		return nil, err
	}
	sel, err := headlineSelector(q)
	if err != nil {
		return nil, err
	}

	scoped := e.FilterByGroup(records, q.GroupKey)
	inRange := e.FilterByRange(scoped, q.Start, q.End)

	periods, err := e.GroupByInterval(inRange, q.Granularity, q.Metrics)
	if err != nil {
		return nil, err
	}

	return &Result{
		Periods:      periods,
		Summary:      e.ComputeSummary(inRange, sel),
		Comparison:   e.CompareWindows(scoped, q.Start, q.End, sel),
		Distribution: Distribution(periods, distributionNames(q, periods)),
	}, nil
}

// headlineSelector reads the value summarised and compared. It always
// agrees with how the headline is folded into periods, so the periods of
// the headline add up to the summary total.
func headlineSelector(q Query) (MetricSelector, error) {
	if q.Headline == "" {
		if len(q.Metrics) == 0 {
			return SumSelector(), nil
		}
		// Sum of the additive metrics; min and max do not add up.
		parts := make([]MetricSelector, 0, len(q.Metrics))
		for _, m := range q.Metrics {
			if sel, ok := MetricSelectorFor(m); ok {
				parts = append(parts, sel)
			}
		}
		return func(r Record) decimal.Decimal {
			total := decimal.Zero
			for _, sel := range parts {
				total = total.Add(sel(r))
			}
			return total
		}, nil
	}
	for _, m := range q.Metrics {
		if m.Name != q.Headline {
			continue
		}
		sel, ok := MetricSelectorFor(m)
		if !ok {
			return nil, fmt.Errorf("%w: headline %q uses %s", ErrInvalidHeadline, q.Headline, m.EffectiveOperator())
		}
		return sel, nil
	}
	if len(q.Metrics) == 0 {
		return FieldSelector(q.Headline), nil
	}
	return nil, fmt.Errorf("%w: headline %q", ErrUnknownMetric, q.Headline)
}

// distributionNames lists the metrics that split the headline: every
// declared sum metric except the headline itself, or every dynamic value name.
func distributionNames(q Query, periods []Period) []string {
	if len(q.Distribution) > 0 {
		return q.Distribution
	}
	if len(q.Metrics) > 0 {
		names := make([]string, 0, len(q.Metrics))
		for _, m := range q.Metrics {
			if m.Name != q.Headline && m.EffectiveOperator() == OpSum {
				names = append(names, m.Name)
			}
		}
		return names
	}

	set := make(map[string]struct{})
	for _, p := range periods {
		for name := range p.Metrics {
			if name != q.Headline {
				set[name] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sumSelected(records []Record, sel MetricSelector) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(sel(r))
	}
	return total
}

func validateGranularity(g Granularity) error {
	switch g {
	case GranularityDay, GranularityWeek, GranularityMonth, GranularityYear:
		return nil
	}
	return fmt.Errorf("%w: %q (must be day, week, month, or year)", ErrInvalidGranularity, g)
}
