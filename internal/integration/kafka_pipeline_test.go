//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/openaq"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

const (
	testMeasurementsTopic = "test-measurements"
	testAdvisoriesTopic   = "test-advisories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

// openAQServer serves the domain fixture as the measurements endpoint.
func openAQServer(t *testing.T) *httptest.Server {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("..", "domain", "testdata", "openaq_measurements.json"))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/measurements", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newConsumer(t *testing.T, broker, topic string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%s-%d", topic, time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

func readMessage(ctx context.Context, t *testing.T, consumer *kafkago.Reader) (kafkago.Message, map[string]string) {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return msg, headers
}

// TestPipelineEndToEnd wires OpenAQ client -> transformer -> Kafka writer and
// memory store, and verifies what lands on both topics.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testMeasurementsTopic)
	createTopic(t, broker, testAdvisoriesTopic)

	cfg := &config.Config{
		KafkaBrokers:           []string{broker},
		KafkaMeasurementsTopic: testMeasurementsTopic,
		KafkaAdvisoriesTopic:   testAdvisoriesTopic,
	}

	metrics := observability.NewMetricsForTesting()
	client := openaq.NewClient(openAQServer(t).URL, 5*time.Second, metrics, discardLogger())
	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	memory := store.NewMemoryStore()

	query := domain.Query{City: "Delhi", Location: "Anand Vihar", Parameter: "pm25", Limit: 100, Lookback: 24 * time.Hour}
	p := pipeline.New(
		client,
		pipeline.NewTransformer(domain.DefaultLadders(), metrics, discardLogger()),
		pipeline.MultiLoader{writer, memory},
		[]domain.Query{query},
		time.Hour,
		discardLogger(),
		metrics,
	)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	measurements := newConsumer(t, broker, testMeasurementsTopic)
	seen := make(map[string]kafka.MeasurementMessage)
	for len(seen) < 5 {
		msg, headers := readMessage(ctx, t, measurements)
		var m kafka.MeasurementMessage
		require.NoError(t, json.Unmarshal(msg.Value, &m))
		assert.Equal(t, m.ID, string(msg.Key))
		assert.Equal(t, m.Parameter, headers["parameter"])
		assert.Equal(t, m.Location, headers["location"])
		_, err := time.Parse(time.RFC3339, headers["generated_at"])
		assert.NoError(t, err, "generated_at should be valid RFC3339")
		seen[m.ID] = m
	}
	assert.Len(t, seen, 5, "duplicates collapse to one message per reading")

	advisories := newConsumer(t, broker, testAdvisoriesTopic)
	msg, headers := readMessage(ctx, t, advisories)
	assert.Equal(t, query.Key(), string(msg.Key))
	assert.Equal(t, "Unhealthy", headers["level"])

	var advisory kafka.AdvisoryMessage
	require.NoError(t, json.Unmarshal(msg.Value, &advisory))
	require.NotNil(t, advisory.Advisory)
	assert.InDelta(t, 212.0, advisory.Advisory.Value, 1e-9)

	pipelineCancel()
	require.NoError(t, <-errCh)

	report, err := memory.Get(query.Key())
	require.NoError(t, err)
	assert.Len(t, report.Series, 5)
	assert.True(t, p.Ready())
}

// TestWriterRepublishIsIdempotentByKey verifies that loading the same report
// twice produces identical message keys, so compacted topics keep one copy.
func TestWriterRepublishIsIdempotentByKey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testMeasurementsTopic)
	createTopic(t, broker, testAdvisoriesTopic)

	writer := kafka.NewWriter(&config.Config{
		KafkaBrokers:           []string{broker},
		KafkaMeasurementsTopic: testMeasurementsTopic,
		KafkaAdvisoriesTopic:   testAdvisoriesTopic,
	}, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	series := domain.MeasurementSeries{{
		Location: "Anand Vihar", Parameter: "pm25", Value: 42, Unit: "µg/m³",
		Timestamp: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
	}}
	report := domain.BuildReport(domain.Query{City: "Delhi", Location: "Anand Vihar", Parameter: "pm25"}, series, domain.DefaultLadders())

	require.NoError(t, writer.Load(ctx, report))
	require.NoError(t, writer.Load(ctx, report))

	consumer := newConsumer(t, broker, testMeasurementsTopic)
	first, _ := readMessage(ctx, t, consumer)
	second, _ := readMessage(ctx, t, consumer)
	assert.Equal(t, first.Key, second.Key)
	assert.Equal(t, domain.MeasurementID(series[0]), string(first.Key))
}
