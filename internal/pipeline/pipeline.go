package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// Transformer turns the raw records fetched for a query into a report.
type Transformer interface {
	Transform(ctx context.Context, q domain.Query, raw []domain.RawMeasurement) (domain.Report, error)
}

// Loader writes a report to a destination.
type Loader interface {
	Load(ctx context.Context, report domain.Report) error
}

// MultiLoader fans a report out to several loaders. Every loader is tried;
// failures are joined.
type MultiLoader []Loader

func (m MultiLoader) Load(ctx context.Context, report domain.Report) error {
	var errs []error
	for _, l := range m {
		if err := l.Load(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pipeline orchestrates the extract-transform-load poll loop.
type Pipeline struct {
	source      domain.Source
	transformer Transformer
	loader      Loader
	queries     []domain.Query
	interval    time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
}

// New creates a Pipeline that polls source for every query once per interval.
func New(s domain.Source, t Transformer, l Loader, queries []domain.Query, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:      s,
		transformer: t,
		loader:      l,
		queries:     queries,
		interval:    interval,
		logger:      logger,
		metrics:     metrics,
	}
}

// CheckReadiness returns nil once at least one report has been loaded,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not loaded any reports yet")
	}
	return nil
}

// Ready reports whether a report has been loaded.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// Run executes one cycle immediately and then one per interval until the
// context is cancelled. A failed query is retried on the next cycle.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "queries", len(p.queries), "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for {
		p.RunOnce(ctx)

		if !sleepWithContext(ctx, p.interval) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// RunOnce fetches, transforms, and loads every query once and returns the
// number of reports loaded.
func (p *Pipeline) RunOnce(ctx context.Context) int {
	start := time.Now()
	loaded := 0
	for _, q := range p.queries {
		if ctx.Err() != nil {
			break
		}
		if p.process(ctx, q) {
			loaded++
		}
	}
	p.metrics.CycleDuration.Observe(time.Since(start).Seconds())

	if loaded > 0 {
		p.ready.Store(true)
	}
	p.logger.Info("cycle complete", "loaded", loaded, "queries", len(p.queries))
	return loaded
}

// process runs one query through the stages. Returns true if the report was
// loaded.
func (p *Pipeline) process(ctx context.Context, q domain.Query) bool {
	key := q.Key()

	raw, err := p.source.Fetch(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("fetch failed", "key", key, "error", err)
		}
		return false
	}

	report, err := p.transformer.Transform(ctx, q, raw)
	if err != nil {
		p.logger.Warn("transform failed, skipping query", "key", key, "error", err)
		return false
	}

	if err := p.loader.Load(ctx, report); err != nil {
		p.logger.Error("load failed", "key", key, "error", err)
		p.metrics.LoadErrors.Inc()
		return false
	}
	p.metrics.ReportsLoaded.Inc()

	if a := report.Advisory; a != nil {
		p.metrics.AdvisoryLevel.WithLabelValues(q.Location, q.Parameter).Set(float64(a.Level))
		p.logger.Info("advisory",
			"key", key,
			"level", a.Level.String(),
			"value", a.Value,
			"simulated", report.Simulated,
		)
	} else {
		p.metrics.AdvisoryLevel.DeleteLabelValues(q.Location, q.Parameter)
		p.logger.Info("no advisory", "key", key, "reason", report.AdvisoryError)
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
