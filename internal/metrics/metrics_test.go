package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()

	m.RecordRequest("GET", "/api/v1/extractors", 200, 100*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/extractors", 200, 150*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/extractors", 500, 50*time.Millisecond)

	// Request the metrics handler
	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "sg_http_requests_total") {
		t.Error("expected sg_http_requests_total metric")
	}
	if !strings.Contains(body, "sg_http_request_duration_seconds") {
		t.Error("expected sg_http_request_duration_seconds metric")
	}
	if !strings.Contains(body, "sg_http_errors_total") {
		t.Error("expected sg_http_errors_total metric")
	}
}

func TestMetrics_WSConnections(t *testing.T) {
	m := New()

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "sg_websocket_connections_active 1") {
		t.Errorf("expected sg_websocket_connections_active 1, got:\n%s", body)
	}
}

func TestMetrics_ActiveJobs(t *testing.T) {
	m := New()

	m.SetActiveJobs(5)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "sg_active_jobs 5") {
		t.Errorf("expected sg_active_jobs 5, got:\n%s", body)
	}
}

func TestMetrics_Uptime(t *testing.T) {
	m := New()

	// Wait a bit to ensure uptime is > 0
	time.Sleep(10 * time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, "sg_uptime_seconds") {
		t.Error("expected sg_uptime_seconds metric")
	}
}

func TestMetrics_EndpointNormalization(t *testing.T) {
	m := New()

	// These should be normalized to the same endpoint
	m.RecordRequest("GET", "/api/v1/files/123e4567-e89b-12d3-a456-426614174000", 200, 10*time.Millisecond)
	m.RecordRequest("GET", "/api/v1/files/550e8400-e29b-41d4-a716-446655440000", 200, 10*time.Millisecond)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	// Should have normalized the UUID to {id}
	if !strings.Contains(body, "/api/v1/files/{id}") {
		t.Errorf("expected normalized endpoint /api/v1/files/{id}, got:\n%s", body)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrappedHandler := MetricsMiddleware(m)(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/extract", nil)
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	// Check that metrics were recorded
	metricsHandler := m.Handler()
	metricsReq := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metricsW := httptest.NewRecorder()

	metricsHandler(metricsW, metricsReq)

	body := metricsW.Body.String()

	if !strings.Contains(body, "/api/v1/extract") {
		t.Errorf("expected endpoint /api/v1/extract in metrics, got:\n%s", body)
	}
}

func TestMetrics_CustomCounter(t *testing.T) {
	m := New()

	m.IncCounter("downloads_completed")
	m.IncCounter("downloads_completed")
	m.IncCounter("downloads_failed")

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, `sg_counter{name="downloads_completed"} 2`) {
		t.Errorf("expected downloads_completed counter = 2, got:\n%s", body)
	}
	if !strings.Contains(body, `sg_counter{name="downloads_failed"} 1`) {
		t.Errorf("expected downloads_failed counter = 1, got:\n%s", body)
	}
}

func TestMetrics_CustomGauge(t *testing.T) {
	m := New()

	m.SetGauge("cache_connected", 1.0)

	handler := m.Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	body := w.Body.String()

	if !strings.Contains(body, `sg_gauge{name="cache_connected"}`) {
		t.Errorf("expected cache_connected gauge, got:\n%s", body)
	}
}
