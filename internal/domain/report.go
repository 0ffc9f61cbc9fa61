package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gosimple/slug"
)

// SimulatedSource is the source name carried by generated stand-in data.
const SimulatedSource = "simulated"

// Query identifies one upstream measurement request.
type Query struct {
	City      string        `json:"city"`
	Location  string        `json:"location"`
	Parameter string        `json:"parameter"`
	Limit     int           `json:"limit"`
	Lookback  time.Duration `json:"lookback"`
}

// Key is a URL-safe identifier for the query, e.g. "delhi-anand-vihar-pm25".
func (q Query) Key() string {
	return slug.Make(fmt.Sprintf("%s %s %s", q.City, q.Location, q.Parameter))
}

// Source fetches raw measurements for a query.
type Source interface {
	Fetch(ctx context.Context, q Query) ([]RawMeasurement, error)
}

// MeasurementID produces a deterministic ID from the reading's identity
// (location, parameter, timestamp), so replays publish the same key.
func MeasurementID(m Measurement) string {
	input := fmt.Sprintf("%s|%s|%s", m.Location, m.Parameter, m.Timestamp.UTC().Format(time.RFC3339Nano))
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])

	prefix := m.Parameter
	if loc := slug.Make(m.Location); loc != "" {
		if prefix != "" {
			prefix += "-"
		}
		prefix += loc
	}
	if prefix == "" {
		return short
	}
	return prefix + "-" + short
}

// Report is the normalized view of one query: its series, a summary of the
// queried parameter and the advisory for its latest value.
type Report struct {
	Key           string            `json:"key"`
	Query         Query             `json:"query"`
	Series        MeasurementSeries `json:"series"`
	Summary       Summary           `json:"summary"`
	Advisory      *Advisory         `json:"advisory,omitempty"`
	AdvisoryError string            `json:"advisory_error,omitempty"`
	Simulated     bool              `json:"simulated,omitempty"`
	GeneratedAt   time.Time         `json:"generated_at"`
}

// BuildReport summarizes a normalized series for q. The advisory is omitted,
// with the reason recorded, when the parameter has no ladder or no usable
// reading.
func BuildReport(q Query, series MeasurementSeries, ladders *Ladders) Report {
	r := Report{
		Key:         q.Key(),
		Query:       q,
		Series:      series,
		Summary:     series.Summarize(q.Parameter),
		GeneratedAt: clock.Now().UTC(),
	}

	for _, m := range series {
		if m.Source == SimulatedSource {
			r.Simulated = true
			break
		}
	}

	latest, ok := series.Latest(q.Parameter)
	if !ok {
		r.AdvisoryError = "no readings for " + normalizeParameter(q.Parameter)
		return r
	}

	advisory, err := ladders.Classify(latest.Parameter, latest.Value)
	if err != nil {
		r.AdvisoryError = err.Error()
		return r
	}
	r.Advisory = &advisory
	return r
}
