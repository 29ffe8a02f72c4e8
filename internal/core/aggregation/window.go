package aggregation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical calendar date format used for keys and storage.
const DateLayout = "2006-01-02"

// ErrInvalidGranularity is returned for any granularity outside day/week/month/year.
var ErrInvalidGranularity = errors.New("invalid granularity")

// Granularity is the time-bucketing resolution of a report.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// ParseGranularity validates s. "daily", "weekly", "monthly" and "yearly"
// are accepted as aliases.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "day", "daily":
		return GranularityDay, nil
	case "week", "weekly":
		return GranularityWeek, nil
	case "month", "monthly":
		return GranularityMonth, nil
	case "year", "yearly":
		return GranularityYear, nil
	}
	return "", fmt.Errorf("%w: %q (must be day, week, month, or year)", ErrInvalidGranularity, s)
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday %q", s)
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate parses an ISO-8601 date or date-time and normalises it to the
// start of its calendar day in loc. Timestamps carrying an offset are
// converted to loc before the day is taken; dates and local times keep the
// day they were written with.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date is empty")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == time.RFC3339Nano {
			t = t.In(loc)
		}
		year, month, day := t.Date()
		return DayStart(year, month, day, loc), nil
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// TruncateToDay returns the start of t's calendar day in loc.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.In(loc).Date()
	return DayStart(year, month, day, loc)
}

// DayStart returns the first instant of the calendar day year-month-day in
// loc. Out-of-range months and days normalise as in time.Date. When a DST
// gap skips midnight the day starts at the transition.
func DayStart(year int, month time.Month, day int, loc *time.Location) time.Time {
	year, month, day = time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Date()

	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if y, m, d := t.Date(); y != year || m != month || d != day {
		h, min, sec := t.Clock()
		t = t.Add(24*time.Hour - time.Duration(h)*time.Hour - time.Duration(min)*time.Minute - time.Duration(sec)*time.Second)
	}
	return t
}

// AddDays moves a day start by n calendar days, staying on day starts.
func AddDays(day time.Time, n int) time.Time {
	year, month, d := day.Date()
	return DayStart(year, month, d+n, day.Location())
}

// BucketFor returns the first day of the bucket containing day.
// day must already be a day start (see TruncateToDay).
// Example: BucketFor(Tue 2024-03-12, week, Sunday) → Sun 2024-03-10
func BucketFor(day time.Time, g Granularity, weekStart time.Weekday) time.Time {
	switch g {
	case GranularityWeek:
		offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
		return AddDays(day, -offset)
	case GranularityMonth:
		return DayStart(day.Year(), day.Month(), 1, day.Location())
	case GranularityYear:
		return DayStart(day.Year(), time.January, 1, day.Location())
	default:
		return day
	}
}

// BucketLastDay returns the last calendar day of the bucket starting at start.
func BucketLastDay(start time.Time, g Granularity) time.Time {
	switch g {
	case GranularityWeek:
		return AddDays(start, 6)
	case GranularityMonth:
		return DayStart(start.Year(), start.Month()+1, start.Day()-1, start.Location())
	case GranularityYear:
		return DayStart(start.Year()+1, start.Month(), start.Day()-1, start.Location())
	default:
		return start
	}
}

// BucketKey formats a bucket start as its canonical sortable key.
func BucketKey(start time.Time, g Granularity) string {
	switch g {
	case GranularityMonth:
		return start.Format("2006-01")
	case GranularityYear:
		return start.Format("2006")
	default:
		return start.Format(DateLayout)
	}
}

// DaysInclusive counts calendar days in [start, end]; 0 when start is after end.
// Day arithmetic runs in UTC so DST transitions in the caller's zone do not skew it.
func DaysInclusive(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if s.After(e) {
		return 0
	}
	return int((e.Unix()-s.Unix())/86400) + 1
}
