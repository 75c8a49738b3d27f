package time

import (
	"fmt"
	"time"
)

const (
	// TimestampLayout is embedded in object keys, second resolution.
	TimestampLayout = "2006-01-02-15:04:05"
	// DateLayout is used to build search prefixes matching a whole day of backups.
	DateLayout = "2006-01-02"
)

// Format returns the timestamp in the object key layout (YYYY-MM-DD-HH:MM:SS).
func Format(t time.Time) string {
	return t.Format(TimestampLayout)
}

// FormatDate returns the date part used in search prefixes (YYYY-MM-DD).
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Parse parses a key timestamp (YYYY-MM-DD-HH:MM:SS).
func Parse(tRaw string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, tRaw)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing time \"%s\": %v", tRaw, err)
	}
	return t, nil
}

// ParseDate parses a date (YYYY-MM-DD).
func ParseDate(dRaw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, dRaw)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date \"%s\": %v", dRaw, err)
	}
	return t, nil
}

// DaysSince returns the number of whole days between the start of both dates.
func DaysSince(d, now time.Time) int {
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
