package aggregation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Supported metric operators.
// avg is derived at read time from sum and RecordCount rather than folded.
const (
	OpCount = "count"
	OpSum   = "sum"
	OpMin   = "min"
	OpMax   = "max"
)

// PeakDateNA is reported as the peak date when there is nothing to summarise.
const PeakDateNA = "N/A"

// Trend is the direction of a period-over-period comparison.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

// Record is one dated farm observation: a milking session, a daily feed entry.
// Date is a calendar date at local midnight; the zero value means the
// upstream date was missing or unparseable and the record is ignored.
type Record struct {
	ID       string
	Date     time.Time
	GroupKey string // cow id, empty when the record is herd-wide
	Values   map[string]decimal.Decimal
}

// Metric names one aggregated output and how it is folded.
type Metric struct {
	Name     string `yaml:"name" json:"name"`
	Field    string `yaml:"field" json:"field"`       // record value name; defaults to Name
	Operator string `yaml:"operator" json:"operator"` // sum (default), count, min, max
}

// SourceField returns the record value name the metric reads.
func (m Metric) SourceField() string {
	if m.Field != "" {
		return m.Field
	}
	return m.Name
}

// EffectiveOperator returns the operator, defaulting to sum.
func (m Metric) EffectiveOperator() string {
	if m.Operator == "" {
		return OpSum
	}
	return m.Operator
}

// Period is one time bucket of a report.
type Period struct {
	BucketKey   string                     `json:"bucket_key"`
	Label       string                     `json:"label"`
	Start       time.Time                  `json:"start"`
	End         time.Time                  `json:"end"` // last calendar day in the bucket, inclusive
	Metrics     map[string]decimal.Decimal `json:"metrics"`
	RecordCount int64                      `json:"record_count"`
}

// SummaryStats is computed from the filtered raw records, never from periods.
type SummaryStats struct {
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Average  decimal.Decimal `json:"average"`
	Peak     decimal.Decimal `json:"peak"`
	PeakDate string          `json:"peak_date"`
}

// ComparisonResult compares a window with the equally long window before it.
type ComparisonResult struct {
	CurrentStart  time.Time       `json:"current_start"`
	CurrentEnd    time.Time       `json:"current_end"`
	PreviousStart time.Time       `json:"previous_start"`
	PreviousEnd   time.Time       `json:"previous_end"`
	CurrentTotal  decimal.Decimal `json:"current_total"`
	PreviousTotal decimal.Decimal `json:"previous_total"`
	PercentChange decimal.Decimal `json:"percent_change"`
	Trend         Trend           `json:"trend"`
}

// Share is one metric's slice of the grand total across all periods.
type Share struct {
	Metric  string          `json:"metric"`
	Value   decimal.Decimal `json:"value"`
	Percent decimal.Decimal `json:"percent"`
}

// Query configures one Aggregate call.
type Query struct {
	Granularity Granularity
	Start       time.Time
	End         time.Time
	GroupKey    string   // optional cow filter
	Metrics     []Metric // empty means every value name present in the records

	// Headline names the metric summarised and compared. Empty means the
	// sum of every metric.
	Headline string

	// Distribution overrides which metrics split the headline.
	Distribution []string
}

// Result is the full output of Aggregate.
type Result struct {
	Periods      []Period         `json:"periods"`
	Summary      SummaryStats     `json:"summary"`
	Comparison   ComparisonResult `json:"comparison"`
	Distribution []Share          `json:"distribution"`
}
