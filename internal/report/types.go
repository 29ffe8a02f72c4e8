package report

import (
	"time"

	coreagg "github.com/dairytrack/dairytrack/internal/core/aggregation"
)

// ReportRequest selects the window of one stored-record report.
// An empty preset with no start/end falls back to the current month.
type ReportRequest struct {
	Report      string `uri:"report"`
	Start       string `form:"start" json:"start"`
	End         string `form:"end" json:"end"`
	Granularity string `form:"granularity" json:"granularity"`
	Preset      string `form:"preset" json:"preset"`
	CowID       string `form:"cow_id" json:"cow_id"`
}

// InlineRecord is a loosely typed record supplied directly to compute.
// Date may be any JSON value; anything but a parseable date string is skipped.
type InlineRecord struct {
	ID     string                 `json:"id"`
	CowID  string                 `json:"cow_id"`
	Date   interface{}            `json:"date"`
	Values map[string]interface{} `json:"values"`
}

// ComputeRequest runs a report over records supplied in the request body.
type ComputeRequest struct {
	ReportRequest
	Records []InlineRecord `json:"records"`
}

// DashboardRequest builds every report for one window.
type DashboardRequest struct {
	Preset string `form:"preset"`
	Start  string `form:"start"`
	End    string `form:"end"`
	CowID  string `form:"cow_id"`
}

// ReportResponse is one rendered report.
type ReportResponse struct {
	Report         string              `json:"report"`
	Title          string              `json:"title,omitempty"`
	SourceKind     string              `json:"source_kind"`
	Headline       string              `json:"headline,omitempty"`
	Preset         coreagg.Preset      `json:"preset"`
	Granularity    coreagg.Granularity `json:"granularity"`
	Start          string              `json:"start"`
	End            string              `json:"end"`
	CowID          string              `json:"cow_id,omitempty"`
	RecordsScanned int                 `json:"records_scanned"`
	SkippedRecords int                 `json:"skipped_records"`
	GeneratedAt    time.Time           `json:"generated_at"`

	coreagg.Result
}

// DashboardResponse bundles every report for one window.
type DashboardResponse struct {
	Preset      coreagg.Preset   `json:"preset"`
	Start       string           `json:"start"`
	End         string           `json:"end"`
	CowID       string           `json:"cow_id,omitempty"`
	Reports     []ReportResponse `json:"reports"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ReportInfo describes a report definition.
type ReportInfo struct {
	Name               string              `json:"name"`
	Title              string              `json:"title,omitempty"`
	SourceKind         string              `json:"source_kind"`
	Headline           string              `json:"headline,omitempty"`
	Metrics            []coreagg.Metric    `json:"metrics"`
	Dynamic            bool                `json:"dynamic"`
	DefaultGranularity coreagg.Granularity `json:"default_granularity"`
	Fingerprint        string              `json:"fingerprint"`
}

func newReportInfo(def coreagg.ReportDefinition) ReportInfo {
	metrics := def.Metrics
	if metrics == nil {
		metrics = []coreagg.Metric{}
	}
	return ReportInfo{
		Name:               def.Name,
		Title:              def.Title,
		SourceKind:         def.SourceKind,
		Headline:           def.Headline,
		Metrics:            metrics,
		Dynamic:            def.Dynamic(),
		DefaultGranularity: def.DefaultGranularity,
		Fingerprint:        def.Fingerprint,
	}
}

// window is a resolved request range.
type window struct {
	preset      coreagg.Preset
	start       time.Time
	end         time.Time
	granularity coreagg.Granularity
}
