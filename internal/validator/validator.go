package validator

import (
	"math"
	"strconv"
	"strings"
)

// SkipReason explains why a raw field value was not turned into a reading
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipAbsent     SkipReason = "absent"
	SkipEmpty      SkipReason = "empty"
	SkipNotNumeric SkipReason = "not numeric"
	SkipNotFinite  SkipReason = "not finite"
)

// FieldResult holds the outcome of parsing one feed field
type FieldResult struct {
	Value  float64
	Reason SkipReason
}

// Ok reports whether the field produced a usable reading
func (r FieldResult) Ok() bool {
	return r.Reason == SkipNone
}

// ParseFieldValue applies the parse-or-skip policy to a raw feed field.
// A nil raw value means the field was absent from the entry. Zero is a valid reading.
func ParseFieldValue(raw *string) FieldResult {
	if raw == nil {
		return FieldResult{Reason: SkipAbsent}
	}

	// Strip square brackets and whitespace if present
	data := strings.TrimSpace(strings.Trim(strings.TrimSpace(*raw), "[]"))
	if data == "" {
		return FieldResult{Reason: SkipEmpty}
	}

	value, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return FieldResult{Reason: SkipNotNumeric}
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return FieldResult{Reason: SkipNotFinite}
	}

	return FieldResult{Value: value}
}
