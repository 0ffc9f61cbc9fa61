// Package simulated produces stand-in measurement data for demos and for
// upstream outages.
package simulated

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

const (
	// Hours is the number of hourly readings a simulated fetch returns.
	Hours = 24

	minValue = 20
	maxValue = 80 // exclusive
)

// Source generates Hours hourly integer readings in [minValue, maxValue) ending
// at the current hour. A fixed seed makes its output reproducible.
type Source struct {
	mu    sync.Mutex
	rng   *rand.Rand
	clock clockwork.Clock
}

// NewSource creates a simulated source seeded with seed.
func NewSource(seed uint64) *Source {
	return &Source{
		rng:   rand.New(rand.NewPCG(seed, seed)),
		clock: clockwork.NewRealClock(),
	}
}

// Fetch returns simulated raw records for q, newest first like the live API.
func (s *Source) Fetch(ctx context.Context, q domain.Query) ([]domain.RawMeasurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.clock.Now().UTC().Truncate(time.Hour)
	records := make([]domain.RawMeasurement, 0, Hours)
	for i := range Hours {
		ts := end.Add(-time.Duration(i) * time.Hour)
		records = append(records, domain.RawMeasurement{
			Location:   q.Location,
			Parameter:  q.Parameter,
			Value:      float64(minValue + s.rng.IntN(maxValue-minValue)),
			Unit:       "µg/m³",
			Date:       domain.NestedUTC(ts.Format(time.RFC3339)),
			SourceName: domain.SimulatedSource,
		})
	}
	return records, nil
}

// Fallback answers from a simulated source when the primary source fails.
// Context cancellation is passed through rather than masked.
type Fallback struct {
	primary   domain.Source
	simulated domain.Source
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewFallback wraps primary so that its failures are replaced by simulated data.
func NewFallback(primary, simulated domain.Source, metrics *observability.Metrics, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, simulated: simulated, metrics: metrics, logger: logger}
}

// Fetch tries the primary source first.
func (f *Fallback) Fetch(ctx context.Context, q domain.Query) ([]domain.RawMeasurement, error) {
	records, err := f.primary.Fetch(ctx, q)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	f.logger.Warn("upstream fetch failed, using simulated data", "key", q.Key(), "error", err)
	f.metrics.FetchFallback.Inc()
	return f.simulated.Fetch(ctx, q)
}
