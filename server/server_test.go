package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/giygas/httpmetrics/config"
	"github.com/giygas/httpmetrics/logging"
	"github.com/giygas/httpmetrics/metrics"
)

const testRemote = "192.0.2.1"

func newTestServer(t *testing.T) (*Server, *metrics.ServerMetrics) {
	t.Helper()
	logging.InitLogger("error")

	cfg := &config.Config{
		Port:                 "8000",
		Address:              "127.0.0.1",
		Env:                  "test",
		LogLevel:             "error",
		ServerMetricsPrefix:  "http",
		ClientName:           "http_client",
		ProbeIntervalSeconds: 30,
	}

	reg := prometheus.NewRegistry()
	store, err := metrics.NewServerMetrics(cfg.ServerMetricsPrefix, cfg.MetricsNamespace, reg)
	if err != nil {
		t.Fatalf("building store failed: %v", err)
	}

	return NewServer(cfg, store, reg), store
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestPingEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, "GET", "/ping")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status ok", body)
	}

	if got := testutil.ToFloat64(store.Requests.WithLabelValues("GET", "http", testRemote, "/ping")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(store.Responses.WithLabelValues("GET", "http", testRemote, "/ping", "200")); got != 1 {
		t.Errorf("responses{200} = %v, want 1", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, "GET", "/status/404")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	if got := testutil.ToFloat64(store.Responses.WithLabelValues("GET", "http", testRemote, "/status/{code}", "404")); got != 1 {
		t.Errorf("responses{404} = %v, want 1", got)
	}

	rec = doRequest(t, s, "GET", "/status/nonsense")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status for invalid code = %d, want 400", rec.Code)
	}
}

func TestDelayEndpointRejectsInvalidDurations(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/delay/nonsense", "/delay/-1s"} {
		if rec := doRequest(t, s, "GET", path); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
	}

	if rec := doRequest(t, s, "GET", "/delay/1ms"); rec.Code != http.StatusOK {
		t.Errorf("GET /delay/1ms status = %d, want 200", rec.Code)
	}
}

func TestRedirectEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/redirect")
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/ping" {
		t.Errorf("Location = %q, want /ping", loc)
	}
}

func TestBoomEndpointAccountsPanic(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, "GET", "/boom")

	// The recoverer converts the re-raised panic to a 500
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := testutil.ToFloat64(store.Exceptions.WithLabelValues("GET", "http", testRemote, "/boom", "errorString")); got != 1 {
		t.Errorf("exceptions{errorString} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(store.Responses.WithLabelValues("GET", "http", testRemote, "/boom", "500")); got != 1 {
		t.Errorf("responses{500} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(store.RequestsInProgress.WithLabelValues("GET", "http", testRemote, "/boom")); got != 0 {
		t.Errorf("in-progress after panic = %v, want 0", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, "GET", "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var data HealthData
	if err := json.NewDecoder(rec.Body).Decode(&data); err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}
	if data.Status != "healthy" {
		t.Errorf("status = %q, want healthy", data.Status)
	}
}

func TestMetricsEndpointExposesTraffic(t *testing.T) {
	s, _ := newTestServer(t)

	doRequest(t, s, "GET", "/ping")

	rec := doRequest(t, s, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	want := `http_requests_total{method="GET",path_template="/ping",remote="` + testRemote + `",scheme="http"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("exposition missing sample %q", want)
	}
}

func TestUnknownRouteIsAccounted(t *testing.T) {
	s, store := newTestServer(t)

	rec := doRequest(t, s, "GET", "/nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	if got := testutil.ToFloat64(store.Requests.WithLabelValues("GET", "http", testRemote, metrics.NotMatched)); got != 1 {
		t.Errorf("requests{not matched} = %v, want 1", got)
	}
}
