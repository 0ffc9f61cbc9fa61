// Package influx writes normalized measurements to InfluxDB as time series.
package influx

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

const (
	measurementName = "air_quality"
	advisoryName    = "air_quality_advisory"
)

// pointWriter is the subset of api.WriteAPIBlocking used here.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Writer stores report series in an InfluxDB bucket.
// It implements pipeline.Loader.
type Writer struct {
	client influxdb2.Client
	api    pointWriter
	logger *slog.Logger
}

// NewWriter connects a blocking write API to the configured bucket.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client: client,
		api:    client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		logger: logger,
	}
}

// Load writes one point per measurement plus an advisory point when the
// report has one. Rewriting the same report overwrites the same points.
func (w *Writer) Load(ctx context.Context, report domain.Report) error {
	points := buildPoints(report)
	if len(points) == 0 {
		return nil
	}
	if err := w.api.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write report %s to influxdb: %w", report.Key, err)
	}
	w.logger.Debug("report written to influxdb", "key", report.Key, "points", len(points))
	return nil
}

// Close flushes and releases the client.
func (w *Writer) Close() error {
	if w.client != nil {
		w.client.Close()
	}
	return nil
}

func buildPoints(report domain.Report) []*write.Point {
	points := make([]*write.Point, 0, len(report.Series)+1)
	for _, m := range report.Series {
		source := m.Source
		if source == "" {
			source = "unknown"
		}
		points = append(points, influxdb2.NewPoint(
			measurementName,
			map[string]string{
				"location":  m.Location,
				"parameter": m.Parameter,
				"unit":      m.Unit,
				"source":    source,
			},
			map[string]interface{}{"value": m.Value},
			m.Timestamp,
		))
	}

	if a := report.Advisory; a != nil {
		latest, _ := report.Series.Latest(a.Pollutant)
		points = append(points, influxdb2.NewPoint(
			advisoryName,
			map[string]string{
				"location":  report.Query.Location,
				"parameter": a.Pollutant,
			},
			map[string]interface{}{
				"level": int(a.Level),
				"value": a.Value,
			},
			latest.Timestamp,
		))
	}
	return points
}
