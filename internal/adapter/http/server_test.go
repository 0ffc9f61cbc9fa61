package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

const reportKey = "delhi-anand-vihar-pm25"

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ts := func(h, m int) time.Time { return time.Date(2024, 1, 15, h, m, 0, 0, time.UTC) }
	series := domain.MeasurementSeries{
		{Location: "Anand Vihar", Parameter: "pm25", Value: 150, Unit: "µg/m³", Timestamp: ts(9, 0)},
		{Location: "Anand Vihar", Parameter: "no2", Value: 64, Unit: "µg/m³", Timestamp: ts(11, 0)},
		{Location: "Anand Vihar", Parameter: "pm25", Value: 180, Unit: "µg/m³", Timestamp: ts(11, 0)},
		{Location: "Chandni Chowk", Parameter: "pm25", Value: 140, Unit: "µg/m³", Timestamp: ts(11, 0)},
	}
	q := domain.Query{City: "Delhi", Location: "Anand Vihar", Parameter: "pm25"}

	s := store.NewMemoryStore()
	require.NoError(t, s.Load(context.Background(), domain.BuildReport(q, series, domain.DefaultLadders())))
	return s
}

func newTestServer(t *testing.T, readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, seededStore(t), domain.DefaultLadders(),
		[]string{"https://dashboard.example"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(t, fmt.Errorf("not ready yet")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListReports(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/reports")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[[]map[string]any](t, rec)
	require.Len(t, body, 1)
	assert.Equal(t, reportKey, body[0]["key"])
	assert.NotContains(t, body[0], "series")
	assert.Equal(t, "Poor", body[0]["advisory"].(map[string]any)["level"])
}

func TestGetReport(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/reports/"+reportKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var report domain.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Len(t, report.Series, 4)
	assert.Equal(t, 3, report.Summary.Count)
	require.NotNil(t, report.Advisory)
	assert.Equal(t, domain.LevelPoor, report.Advisory.Level)
}

func TestGetReport_NotFound(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/reports/nowhere")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "nowhere")
}

func TestHourly(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/reports/"+reportKey+"/hourly")
	require.Equal(t, http.StatusOK, rec.Code)

	points := decode[[]domain.HourlyPoint](t, rec)
	require.Len(t, points, 3)
	assert.InDelta(t, 150.0, points[0].Mean, 1e-9)
	assert.True(t, points[1].Filled)
	assert.InDelta(t, 160.0, points[2].Mean, 1e-9)
}

func TestHourly_OtherParameter(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/reports/"+reportKey+"/hourly?parameter=o3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPivot(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := get(t, srv, "/api/v1/reports/"+reportKey+"/pivot")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]domain.PivotRow](t, rec)
	require.Len(t, rows, 2)
	assert.InDelta(t, 160.0, rows[1].Values["pm25"], 1e-9)
	assert.InDelta(t, 64.0, rows[1].Values["no2"], 1e-9)

	rec = get(t, srv, "/api/v1/reports/"+reportKey+"/pivot?by=location")
	require.Equal(t, http.StatusOK, rec.Code)
	locs := decode[[]domain.LocationRow](t, rec)
	require.Len(t, locs, 2)
	assert.Equal(t, "Anand Vihar", locs[0].Location)

	rec = get(t, srv, "/api/v1/reports/"+reportKey+"/pivot?by=unit")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		query     string
		wantCode  int
		wantLevel string
	}{
		{"pollutant=pm25&value=42", http.StatusOK, "Good"},
		{"pollutant=PM25&value=300", http.StatusOK, "Hazardous"},
		{"pollutant=pm10&value=260", http.StatusOK, "Poor"},
		{"pollutant=co&value=1", http.StatusNotFound, ""},
		{"pollutant=pm25&value=-1", http.StatusBadRequest, ""},
		{"pollutant=pm25&value=abc", http.StatusBadRequest, ""},
		{"pollutant=pm25", http.StatusBadRequest, ""},
		{"value=10", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, srv, "/api/v1/classify?"+tt.query)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLevel != "" {
				assert.Equal(t, tt.wantLevel, decode[map[string]any](t, rec)["level"])
			}
		})
	}
}

func TestLadders(t *testing.T) {
	rec := get(t, newTestServer(t, nil), "/api/v1/ladders")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string][]map[string]any](t, rec)
	require.Contains(t, body, "pm25")
	require.Len(t, body["pm25"], 5)
	assert.Nil(t, body["pm25"][4]["upper"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/reports", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
