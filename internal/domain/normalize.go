package domain

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

type seriesKey struct {
	location  string
	parameter string
	sec       int64
	nsec      int
}

// Normalize converts raw records into a sorted, deduplicated series.
// Records with no usable timestamp or value are dropped and reported in the
// second return value; the batch itself never fails.
func Normalize(raw []RawMeasurement) (MeasurementSeries, []Skipped) {
	series := make(MeasurementSeries, 0, len(raw))
	var skipped []Skipped
	seen := make(map[seriesKey]struct{}, len(raw))

	for i, rec := range raw {
		m, skip, ok := normalizeRecord(rec)
		if !ok {
			skip.Index = i
			skipped = append(skipped, skip)
			continue
		}

		key := seriesKey{
			location:  m.Location,
			parameter: m.Parameter,
			sec:       m.Timestamp.Unix(),
			nsec:      m.Timestamp.Nanosecond(),
		}
		if _, dup := seen[key]; dup {
			skipped = append(skipped, Skipped{Index: i, Reason: SkipDuplicate})
			continue
		}
		seen[key] = struct{}{}
		series = append(series, m)
	}

	slices.SortStableFunc(series, compareMeasurements)
	return series, skipped
}

func compareMeasurements(a, b Measurement) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Parameter, b.Parameter); c != 0 {
		return c
	}
	return cmp.Compare(a.Location, b.Location)
}

func normalizeRecord(rec RawMeasurement) (Measurement, Skipped, bool) {
	text, ok := rec.Date.text()
	if !ok {
		return Measurement{}, Skipped{Reason: SkipMissingTimestamp}, false
	}
	ts, err := parseTimestamp(text)
	if err != nil {
		return Measurement{}, Skipped{Reason: SkipInvalidTimestamp, Detail: err.Error()}, false
	}

	value, reason, ok := coerceValue(rec.Value)
	if !ok {
		return Measurement{}, Skipped{Reason: reason, Detail: fmt.Sprintf("value %v", rec.Value)}, false
	}

	return Measurement{
		Location:  strings.TrimSpace(rec.Location),
		Parameter: normalizeParameter(rec.Parameter),
		Value:     value,
		Unit:      strings.TrimSpace(rec.Unit),
		Timestamp: ts,
		Source:    strings.TrimSpace(rec.SourceName),
	}, Skipped{}, true
}

// normalizeParameter lower-cases and trims a pollutant code.
func normalizeParameter(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// parseTimestamp parses an ISO-8601 date-time and anchors it to UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: not ISO-8601", s)
}

// coerceValue converts a decoded JSON value (or a Go number supplied directly)
// to a finite float64.
func coerceValue(v any) (float64, SkipReason, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, SkipMissingValue, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		return parseNumber(string(x))
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, SkipMissingValue, false
		}
		return parseNumber(x)
	default:
		return 0, SkipNonNumericValue, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, SkipNonFiniteValue, false
	}
	return f, "", true
}

func parseNumber(s string) (float64, SkipReason, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, SkipNonFiniteValue, false
		}
		return 0, SkipNonNumericValue, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, SkipNonFiniteValue, false
	}
	return f, "", true
}

// ToRaw converts the series back into raw records with nested UTC
// timestamps. Normalizing the result yields the same series.
func (s MeasurementSeries) ToRaw() []RawMeasurement {
	raw := make([]RawMeasurement, len(s))
	for i, m := range s {
		raw[i] = RawMeasurement{
			Location:   m.Location,
			Parameter:  m.Parameter,
			Value:      m.Value,
			Unit:       m.Unit,
			Date:       NestedUTC(m.Timestamp.UTC().Format(time.RFC3339Nano)),
			SourceName: m.Source,
		}
	}
	return raw
}
