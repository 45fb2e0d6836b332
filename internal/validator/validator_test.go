package validator_test

import (
	"testing"

	"github.com/septivank/irrigation-sync-worker/internal/validator"
)

func str(s string) *string { return &s }

func TestParseFieldValue(t *testing.T) {
	cases := []struct {
		name   string
		raw    *string
		value  float64
		reason validator.SkipReason
	}{
		{"absent", nil, 0, validator.SkipAbsent},
		{"empty", str(""), 0, validator.SkipEmpty},
		{"blank", str("   "), 0, validator.SkipEmpty},
		{"zero is a reading", str("0"), 0, validator.SkipNone},
		{"decimal", str("23.75"), 23.75, validator.SkipNone},
		{"negative", str("-2.5"), -2.5, validator.SkipNone},
		{"padded", str(" 41.0 "), 41.0, validator.SkipNone},
		{"bracketed", str("[12.5]"), 12.5, validator.SkipNone},
		{"text", str("abc"), 0, validator.SkipNotNumeric},
		{"trailing garbage", str("12abc"), 0, validator.SkipNotNumeric},
		{"nan", str("NaN"), 0, validator.SkipNotFinite},
		{"inf", str("+Inf"), 0, validator.SkipNotFinite},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := validator.ParseFieldValue(tc.raw)
			if res.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, res.Reason)
			}
			if res.Ok() && res.Value != tc.value {
				t.Errorf("expected value %v, got %v", tc.value, res.Value)
			}
		})
	}
}
