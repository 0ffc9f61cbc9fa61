package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

// ReportReader is the read side of the report store.
type ReportReader interface {
	Get(key string) (domain.Report, error)
	List() []domain.Report
}

// Server exposes health, readiness, metrics, and the read-only report API.
type Server struct {
	httpServer *http.Server
	reports    ReportReader
	ladders    *domain.Ladders
	logger     *slog.Logger
}

// NewServer creates an HTTP server. allowedOrigins configures CORS for
// browser dashboards.
func NewServer(addr string, ready sharedobs.ReadinessChecker, reports ReportReader, ladders *domain.Ladders, allowedOrigins []string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		reports: reports,
		ladders: ladders,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/v1/reports", s.handleListReports)
	mux.HandleFunc("GET /api/v1/reports/{key}", s.handleGetReport)
	mux.HandleFunc("GET /api/v1/reports/{key}/hourly", s.handleHourly)
	mux.HandleFunc("GET /api/v1/reports/{key}/pivot", s.handlePivot)
	mux.HandleFunc("GET /api/v1/classify", s.handleClassify)
	mux.HandleFunc("GET /api/v1/ladders", s.handleLadders)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// reportSummary is a report without its series.
type reportSummary struct {
	Key           string           `json:"key"`
	Query         domain.Query     `json:"query"`
	Summary       domain.Summary   `json:"summary"`
	Advisory      *domain.Advisory `json:"advisory,omitempty"`
	AdvisoryError string           `json:"advisory_error,omitempty"`
	Simulated     bool             `json:"simulated,omitempty"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request) {
	reports := s.reports.List()
	out := make([]reportSummary, len(reports))
	for i, r := range reports {
		out[i] = reportSummary{
			Key:           r.Key,
			Query:         r.Query,
			Summary:       r.Summary,
			Advisory:      r.Advisory,
			AdvisoryError: r.AdvisoryError,
			Simulated:     r.Simulated,
			GeneratedAt:   r.GeneratedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	report, ok := s.lookup(w, r)
	if !ok {
		return
	}
	parameter := r.URL.Query().Get("parameter")
	if parameter == "" {
		parameter = report.Query.Parameter
	}
	points := report.Series.HourlyMeans(parameter)
	if points == nil {
		points = []domain.HourlyPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handlePivot(w http.ResponseWriter, r *http.Request) {
	report, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch by := r.URL.Query().Get("by"); by {
	case "", "time":
		rows := report.Series.PivotByTime()
		if rows == nil {
			rows = []domain.PivotRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	case "location":
		rows := report.Series.PivotByLocation()
		if rows == nil {
			rows = []domain.LocationRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	default:
		writeError(w, http.StatusBadRequest, "by must be time or location, got "+strconv.Quote(by))
	}
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pollutant := q.Get("pollutant")
	if pollutant == "" {
		writeError(w, http.StatusBadRequest, "pollutant is required")
		return
	}
	value, err := strconv.ParseFloat(q.Get("value"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be a number")
		return
	}

	advisory, err := s.ladders.Classify(pollutant, value)
	switch {
	case errors.Is(err, domain.ErrUnknownPollutant):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error("classify failed", "pollutant", pollutant, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		writeJSON(w, http.StatusOK, advisory)
	}
}

func (s *Server) handleLadders(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]domain.Ladder)
	for _, p := range s.ladders.Pollutants() {
		out[p], _ = s.ladders.Ladder(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (domain.Report, bool) {
	key := r.PathValue("key")
	report, err := s.reports.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no report for "+strconv.Quote(key))
		return domain.Report{}, false
	}
	if err != nil {
		s.logger.Error("report lookup failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return domain.Report{}, false
	}
	return report, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
