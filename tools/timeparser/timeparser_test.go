package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/irrigation-sync-worker/tools/timeparser"
)

func TestParseFeedTimestamp_RFC3339(t *testing.T) {
	result, err := timeparser.ParseFeedTimestamp("2025-03-10T12:05:00Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseFeedTimestamp_OffsetIsNormalized(t *testing.T) {
	result, err := timeparser.ParseFeedTimestamp("2025-03-10T09:05:00-03:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	if result.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", result.Location())
	}
	if result.Hour() != 12 {
		t.Errorf("Expected 12h UTC, got %v", result)
	}
}

func TestParseFeedTimestamp_Naive(t *testing.T) {
	result, err := timeparser.ParseFeedTimestamp("2025-03-10 12:05:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseFeedTimestamp_Invalid(t *testing.T) {
	if _, err := timeparser.ParseFeedTimestamp("10/03/2025"); err == nil {
		t.Error("Expected error for unsupported format")
	}
}

func TestStoredTimestamp_RoundTripKeepsOrder(t *testing.T) {
	a := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	b := a.Add(1500 * time.Millisecond)

	fa, fb := timeparser.FormatStoredTimestamp(a), timeparser.FormatStoredTimestamp(b)
	if fa >= fb {
		t.Errorf("Expected text order to follow time order: %q >= %q", fa, fb)
	}

	back, err := timeparser.ParseStoredTimestamp(fb)
	if err != nil {
		t.Fatalf("Failed to parse stored timestamp: %v", err)
	}
	if !back.Equal(b) {
		t.Errorf("Expected %v, got %v", b, back)
	}
}

func TestDaysInMonth(t *testing.T) {
	cases := map[time.Time]int{
		time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC): 29,
		time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC): 28,
		time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC): 30,
		time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC): 31,
	}
	for in, want := range cases {
		if got := timeparser.DaysInMonth(in); got != want {
			t.Errorf("DaysInMonth(%s) = %d, want %d", in.Format("2006-01"), got, want)
		}
	}
}
