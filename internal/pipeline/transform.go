package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// ReportTransformer implements Transformer by normalizing raw records and
// classifying the latest reading against the advisory ladders.
type ReportTransformer struct {
	ladders *domain.Ladders
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTransformer creates a ReportTransformer.
func NewTransformer(ladders *domain.Ladders, metrics *observability.Metrics, logger *slog.Logger) *ReportTransformer {
	return &ReportTransformer{
		ladders: ladders,
		metrics: metrics,
		logger:  logger,
	}
}

func (t *ReportTransformer) Transform(ctx context.Context, q domain.Query, raw []domain.RawMeasurement) (domain.Report, error) {
	if err := ctx.Err(); err != nil {
		return domain.Report{}, err
	}
	t.metrics.RecordsReceived.Add(float64(len(raw)))

	series, skipped := domain.Normalize(raw)
	for _, s := range skipped {
		t.metrics.RecordsSkipped.WithLabelValues(string(s.Reason)).Inc()
		t.logger.Debug("record skipped", "key", q.Key(), "index", s.Index, "reason", s.Reason, "detail", s.Detail)
	}
	if len(skipped) > 0 {
		t.logger.Info("records skipped during normalization", "key", q.Key(), "skipped", len(skipped), "kept", len(series))
	}

	return domain.BuildReport(q, series, t.ladders), nil
}
