package timeparser

import (
	"fmt"
	"time"
)

// StorageLayout is the fixed-width UTC layout used for text timestamp columns
const StorageLayout = "2006-01-02 15:04:05.000"

// ParseFeedTimestamp attempts to parse a feed created_at value with multiple formats
func ParseFeedTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,      // 2024-05-01T10:30:45Z / with offset
		"2006-01-02 15:04:05 MST",
		"2006-01-02 15:04:05", // naive, treated as UTC
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// ParseStoredTimestamp parses a timestamp read back from a text column
func ParseStoredTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		StorageLayout,
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse stored timestamp '%s': %w", dateStr, lastErr)
}

// FormatStoredTimestamp formats t for a text timestamp column
func FormatStoredTimestamp(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

// DaysInMonth returns the number of days in t's calendar month
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
