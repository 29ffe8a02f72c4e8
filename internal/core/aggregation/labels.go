package aggregation

import (
	"fmt"
	"time"
)

// Labeler renders a human label for a bucket. Labels are presentation only;
// ordering and identity always use the bucket key.
type Labeler interface {
	Label(start time.Time, g Granularity) string
}

// Supported label locales.
const (
	LocaleEnglish    = "en"
	LocaleIndonesian = "id"
)

// NewLabeler returns the labeler for locale, falling back to English.
func NewLabeler(locale string) Labeler {
	if locale == LocaleIndonesian {
		return calendarLabeler{months: indonesianMonths, short: indonesianShortMonths}
	}
	return calendarLabeler{months: englishMonths, short: englishShortMonths}
}

// ValidLocale reports whether locale has month tables.
func ValidLocale(locale string) bool {
	return locale == LocaleEnglish || locale == LocaleIndonesian
}

var (
	englishMonths = [12]string{
		"January", "February", "March", "April", "May", "June",
		"July", "August", "September", "October", "November", "December",
	}
	englishShortMonths = [12]string{
		"Jan", "Feb", "Mar", "Apr", "May", "Jun",
		"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
	}
	indonesianMonths = [12]string{
		"Januari", "Februari", "Maret", "April", "Mei", "Juni",
		"Juli", "Agustus", "September", "Oktober", "November", "Desember",
	}
	indonesianShortMonths = [12]string{
		"Jan", "Feb", "Mar", "Apr", "Mei", "Jun",
		"Jul", "Agu", "Sep", "Okt", "Nov", "Des",
	}
)

type calendarLabeler struct {
	months [12]string
	short  [12]string
}

func (l calendarLabeler) Label(start time.Time, g Granularity) string {
	switch g {
	case GranularityWeek:
		end := BucketLastDay(start, g)
		return fmt.Sprintf("%s - %s", l.dayMonth(start), l.dayMonth(end))
	case GranularityMonth:
		return fmt.Sprintf("%s %d", l.months[start.Month()-1], start.Year())
	case GranularityYear:
		return fmt.Sprintf("%d", start.Year())
	default:
		return fmt.Sprintf("%s %d", l.dayMonth(start), start.Year())
	}
}

func (l calendarLabeler) dayMonth(t time.Time) string {
	return fmt.Sprintf("%02d %s", t.Day(), l.short[t.Month()-1])
}
