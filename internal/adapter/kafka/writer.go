package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Writer publishes normalized measurements and advisories to Kafka.
// It implements pipeline.Loader.
type Writer struct {
	writer            messageWriter
	measurementsTopic string
	advisoriesTopic   string
	logger            *slog.Logger
}

// messageWriter is the subset of kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter creates a Kafka producer. The topic is set per message, so the
// underlying writer carries none.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{
		writer:            w,
		measurementsTopic: cfg.KafkaMeasurementsTopic,
		advisoriesTopic:   cfg.KafkaAdvisoriesTopic,
		logger:            logger,
	}
}

// MeasurementMessage is the value published for each reading.
type MeasurementMessage struct {
	ID string `json:"id"`
	domain.Measurement
	ReportKey string `json:"report_key"`
}

// AdvisoryMessage is the value published once per report.
type AdvisoryMessage struct {
	ReportKey   string           `json:"report_key"`
	Location    string           `json:"location"`
	Parameter   string           `json:"parameter"`
	Advisory    *domain.Advisory `json:"advisory,omitempty"`
	Error       string           `json:"error,omitempty"`
	Simulated   bool             `json:"simulated,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Load publishes every measurement of the report followed by its advisory in
// a single WriteMessages call.
func (w *Writer) Load(ctx context.Context, report domain.Report) error {
	msgs := make([]kafkago.Message, 0, len(report.Series)+1)
	for _, m := range report.Series {
		msg, err := serializeMeasurement(w.measurementsTopic, report, m)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	msg, err := serializeAdvisory(w.advisoriesTopic, report)
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)

	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish report %s: %w", report.Key, err)
	}
	w.logger.Debug("report published", "key", report.Key, "messages", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

func serializeMeasurement(topic string, report domain.Report, m domain.Measurement) (kafkago.Message, error) {
	id := domain.MeasurementID(m)
	data, err := json.Marshal(MeasurementMessage{ID: id, Measurement: m, ReportKey: report.Key})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize measurement: %w", err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(id),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "parameter", Value: []byte(m.Parameter)},
			{Key: "location", Value: []byte(m.Location)},
			{Key: "generated_at", Value: []byte(report.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}

func serializeAdvisory(topic string, report domain.Report) (kafkago.Message, error) {
	data, err := json.Marshal(AdvisoryMessage{
		ReportKey:   report.Key,
		Location:    report.Query.Location,
		Parameter:   report.Query.Parameter,
		Advisory:    report.Advisory,
		Error:       report.AdvisoryError,
		Simulated:   report.Simulated,
		GeneratedAt: report.GeneratedAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize advisory: %w", err)
	}

	level := "none"
	if report.Advisory != nil {
		level = report.Advisory.Level.String()
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(report.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "level", Value: []byte(level)},
			{Key: "generated_at", Value: []byte(report.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
