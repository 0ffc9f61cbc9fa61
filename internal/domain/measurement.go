package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrShape is returned when a payload is not a sequence of measurement objects.
// It signals a contract violation by the caller, not bad data.
var ErrShape = errors.New("malformed measurement payload")

// NestedTimestamp is the object form of a raw timestamp.
type NestedTimestamp struct {
	UTC   string `json:"utc"`
	Local string `json:"local,omitempty"`
}

// RawTimestamp holds either timestamp shape seen on the wire: an object with a
// "utc" key, or a flat ISO-8601 string. At most one of the two is set.
type RawTimestamp struct {
	Nested *NestedTimestamp
	Flat   string
}

// NestedUTC builds the object form {"utc": s}.
func NestedUTC(s string) RawTimestamp {
	return RawTimestamp{Nested: &NestedTimestamp{UTC: s}}
}

// FlatTimestamp builds the flat string form.
func FlatTimestamp(s string) RawTimestamp {
	return RawTimestamp{Flat: s}
}

// text returns the timestamp string, preferring the nested "utc" value.
func (t RawTimestamp) text() (string, bool) {
	if t.Nested != nil && t.Nested.UTC != "" {
		return t.Nested.UTC, true
	}
	if t.Flat != "" {
		return t.Flat, true
	}
	return "", false
}

// UnmarshalJSON picks the variant from the first token. Numbers, booleans and
// malformed objects decode to the empty timestamp so the record is skipped
// later instead of failing the whole payload.
func (t *RawTimestamp) UnmarshalJSON(data []byte) error {
	*t = RawTimestamp{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '{':
		var nested NestedTimestamp
		if err := json.Unmarshal(data, &nested); err != nil {
			t.Nested = &NestedTimestamp{}
			return nil
		}
		t.Nested = &nested
	case '"':
		var flat string
		if err := json.Unmarshal(data, &flat); err == nil {
			t.Flat = flat
		}
	}
	return nil
}

// MarshalJSON writes the variant that is set, or null.
func (t RawTimestamp) MarshalJSON() ([]byte, error) {
	switch {
	case t.Nested != nil:
		return json.Marshal(t.Nested)
	case t.Flat != "":
		return json.Marshal(t.Flat)
	default:
		return []byte("null"), nil
	}
}

// RawMeasurement is one untrusted record from the measurements API.
// Value keeps whatever JSON produced (json.Number, string, bool, nil) so that
// coercion and its failures happen in Normalize.
type RawMeasurement struct {
	Location   string       `json:"location"`
	Parameter  string       `json:"parameter"`
	Value      any          `json:"value"`
	Unit       string       `json:"unit"`
	Date       RawTimestamp `json:"date"`
	SourceName string       `json:"sourceName,omitempty"`
}

// UnmarshalJSON decodes a record leniently: text fields of the wrong JSON type
// become empty strings rather than failing the payload.
func (r *RawMeasurement) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return fmt.Errorf("%w: record is not an object", ErrShape)
	}

	*r = RawMeasurement{
		Location:   jsonString(fields["location"]),
		Parameter:  jsonString(fields["parameter"]),
		Value:      jsonValue(fields["value"]),
		Unit:       jsonString(fields["unit"]),
		SourceName: jsonString(fields["sourceName"]),
	}
	if date, ok := fields["date"]; ok {
		if err := r.Date.UnmarshalJSON(date); err != nil {
			return err
		}
	}
	return nil
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func jsonValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Measurement is the canonical form of a single reading.
type Measurement struct {
	Location  string    `json:"location"`
	Parameter string    `json:"parameter"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// MeasurementSeries is sorted ascending by timestamp, then parameter, then
// location, and never holds two readings for the same
// (location, parameter, timestamp).
type MeasurementSeries []Measurement

// SkipReason classifies why a raw record was dropped.
type SkipReason string

const (
	SkipMissingTimestamp SkipReason = "missing_timestamp"
	SkipInvalidTimestamp SkipReason = "invalid_timestamp"
	SkipMissingValue     SkipReason = "missing_value"
	SkipNonNumericValue  SkipReason = "non_numeric_value"
	SkipNonFiniteValue   SkipReason = "non_finite_value"
	SkipDuplicate        SkipReason = "duplicate"
)

// Skipped describes a raw record that Normalize dropped. Index is the
// record's position in the input.
type Skipped struct {
	Index  int        `json:"index"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// DecodeResults decodes a measurements response body. It accepts the API
// envelope {"results": [...]} or a bare array. Anything else, including
// array elements that are not objects, fails with ErrShape.
func DecodeResults(body []byte) ([]RawMeasurement, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrShape)
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShape, err)
		}
	case '{':
		var envelope struct {
			Results *json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrShape, err)
		}
		if envelope.Results == nil {
			return nil, fmt.Errorf("%w: missing results", ErrShape)
		}
		if err := json.Unmarshal(*envelope.Results, &items); err != nil {
			return nil, fmt.Errorf("%w: results is not an array", ErrShape)
		}
	default:
		return nil, fmt.Errorf("%w: expected object or array", ErrShape)
	}

	records := make([]RawMeasurement, 0, len(items))
	for i, item := range items {
		var rec RawMeasurement
		if err := rec.UnmarshalJSON(item); err != nil {
			return nil, fmt.Errorf("results[%d]: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
