package aggregation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPreset is returned for an unknown date-range preset.
var ErrInvalidPreset = errors.New("invalid preset")

// Preset names a date range relative to today.
type Preset string

const (
	PresetToday  Preset = "today"
	PresetWeek   Preset = "week"
	PresetMonth  Preset = "month"
	PresetYear   Preset = "year"
	PresetCustom Preset = "custom"
)

// PresetRange is a resolved preset: inclusive calendar bounds plus the
// granularity a report over that range is shown at by default.
type PresetRange struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// ParsePreset validates s; empty means custom.
func ParsePreset(s string) (Preset, error) {
	switch p := Preset(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PresetCustom, nil
	case PresetToday, PresetWeek, PresetMonth, PresetYear, PresetCustom:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q (must be today, week, month, year, or custom)", ErrInvalidPreset, s)
}

// ResolvePreset expands a non-custom preset around the calendar day of now.
// week → the week containing today, shown per day; month → the calendar
// month, shown per week; year → the calendar year, shown per month.
// Custom presets carry no range and return ok=false.
func ResolvePreset(p Preset, now time.Time, weekStart time.Weekday, loc *time.Location) (PresetRange, bool) {
	today := TruncateToDay(now, loc)

	switch p {
	case PresetToday:
		return PresetRange{Start: today, End: today, Granularity: GranularityDay}, true
	case PresetWeek:
		start := BucketFor(today, GranularityWeek, weekStart)
		return PresetRange{Start: start, End: BucketLastDay(start, GranularityWeek), Granularity: GranularityDay}, true
	case PresetMonth:
		start := BucketFor(today, GranularityMonth, weekStart)
		return PresetRange{Start: start, End: BucketLastDay(start, GranularityMonth), Granularity: GranularityWeek}, true
	case PresetYear:
		start := BucketFor(today, GranularityYear, weekStart)
		return PresetRange{Start: start, End: BucketLastDay(start, GranularityYear), Granularity: GranularityMonth}, true
	}
	return PresetRange{}, false
}
