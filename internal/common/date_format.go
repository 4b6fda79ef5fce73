package common

import (
	"fmt"
	"strings"
	"time"
)

// Standard date format constants
const (
	// ISO8601Date is the date format used by the WaPOR API, time range codes
	// and the user-facing date range
	ISO8601Date = "2006-01-02"

	// SessionTimestamp is the format used to name a download session directory
	SessionTimestamp = "2006-01-02-15-04-05"

	// SecondsPerDay converts a time range duration into a day count
	SecondsPerDay = 86400
)

// ParseISO8601 parses a date string in ISO 8601 format (YYYY-MM-DD)
func ParseISO8601(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, fmt.Errorf("date string is empty")
	}
	return time.Parse(ISO8601Date, dateStr)
}

// FormatISO8601 formats a time.Time to ISO 8601 date string (YYYY-MM-DD)
func FormatISO8601(t time.Time) string {
	return t.Format(ISO8601Date)
}

// TimeRangeFilter renders the half-open range filter sent to the query
// endpoint: "[start,end)".
func TimeRangeFilter(start, end time.Time) string {
	return fmt.Sprintf("[%s,%s)", FormatISO8601(start), FormatISO8601(end))
}

// ParseTimeRangeCode decodes a time member code such as
// "[2020-01-01,2020-01-11)" into its start and end dates.
func ParseTimeRangeCode(code string) (start, end time.Time, err error) {
	if len(code) < 23 {
		return time.Time{}, time.Time{}, fmt.Errorf("time range code %q is too short", code)
	}
	if !strings.ContainsAny(code[:1], "[(") {
		return time.Time{}, time.Time{}, fmt.Errorf("time range code %q has no opening bracket", code)
	}

	start, err = ParseISO8601(code[1:11])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("time range code %q: invalid start: %w", code, err)
	}
	end, err = ParseISO8601(code[12:22])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("time range code %q: invalid end: %w", code, err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("time range code %q ends before it starts", code)
	}
	return start, end, nil
}

// DaysInTimeRangeCode returns the number of days spanned by a time range code.
// Fractions are kept, matching a plain seconds / 86400 division.
func DaysInTimeRangeCode(code string) (float64, error) {
	start, end, err := ParseTimeRangeCode(code)
	if err != nil {
		return 0, err
	}
	return float64(end.Unix()-start.Unix()) / SecondsPerDay, nil
}
