package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/openaq"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/simulated"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ladders, err := config.LoadLadders(cfg.LaddersFile)
	if err != nil {
		logger.Error("failed to load advisory ladders", "error", err)
		os.Exit(1)
	}
	logger.Info("advisory ladders loaded", "pollutants", ladders.Pollutants())

	// Source chain: OpenAQ client, optional simulated fallback, then cache.
	var source domain.Source = openaq.NewClient(cfg.OpenAQBaseURL, cfg.OpenAQTimeout, metrics, logger)
	if cfg.SimulatedFallback {
		source = simulated.NewFallback(source, simulated.NewSource(uint64(os.Getpid())), metrics, logger)
		logger.Info("simulated fallback enabled")
	}
	source = openaq.NewCachedSource(source, cfg.CacheTTL, cfg.CacheSize, metrics)

	// Sinks: the in-memory store always, Kafka and InfluxDB when configured.
	reports := store.NewMemoryStore()
	loaders := pipeline.MultiLoader{reports}
	var closers []io.Closer

	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		loaders = append(loaders, writer)
		closers = append(closers, writer)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers,
			"measurements_topic", cfg.KafkaMeasurementsTopic, "advisories_topic", cfg.KafkaAdvisoriesTopic)
	}
	if cfg.InfluxEnabled {
		writer := influx.NewWriter(cfg, logger)
		loaders = append(loaders, writer)
		closers = append(closers, writer)
		logger.Info("influxdb sink enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}

	transformer := pipeline.NewTransformer(ladders, metrics, logger)
	p := pipeline.New(source, transformer, loaders, cfg.Queries(), cfg.PollInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, reports, ladders, cfg.CORSAllowedOrigins, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
