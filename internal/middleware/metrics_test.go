package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	dto "github.com/prometheus/client_model/go"

	"predict-proxy/internal/metrics"
)

// requestCounters returns predict_proxy_http_requests_total samples keyed by their labels.
func requestCounters(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "predict_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			out = append(out, labelMap(metric))
		}
	}
	return out
}

func labelMap(metric *dto.Metric) map[string]string {
	labels := make(map[string]string)
	for _, lp := range metric.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}

func TestMetricsMiddleware_IncrementsCounter(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/predict/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"exp-1", "exp-2", "exp-3"} {
		req := httptest.NewRequest(http.MethodGet, "/predict/"+id, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	}

	samples := requestCounters(t, m)
	if len(samples) != 1 {
		t.Fatalf("got %d label sets, want 1 (experiment ids must not leak into labels): %v", len(samples), samples)
	}
	if samples[0]["path_prefix"] != "/predict" {
		t.Errorf("path_prefix = %q, want %q", samples[0]["path_prefix"], "/predict")
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "predict_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected predict_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		wantStatus string
	}{
		{"http error", echo.NewHTTPError(http.StatusNotFound, "not found"), "404"},
		{"plain error", errors.New("boom"), "500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()

			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.GET("/predict/abc", func(c echo.Context) error {
				return tt.handlerErr
			})

			req := httptest.NewRequest(http.MethodGet, "/predict/abc", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			for _, labels := range requestCounters(t, m) {
				if labels["path_prefix"] == "/predict" {
					if labels["status_code"] != tt.wantStatus {
						t.Errorf("status_code = %q, want %q", labels["status_code"], tt.wantStatus)
					}
					return
				}
			}
			t.Error("expected predict_proxy_http_requests_total with path_prefix=/predict")
		})
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("PROPFIND", "/predict/abc", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	for _, labels := range requestCounters(t, m) {
		if labels["path_prefix"] == "/predict" {
			if labels["method"] != "other" {
				t.Errorf("method = %q, want %q", labels["method"], "other")
			}
			return
		}
	}
	t.Error("expected predict_proxy_http_requests_total with path_prefix=/predict and method=other")
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	// No routes registered; request should yield 404.

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	for _, labels := range requestCounters(t, m) {
		if labels["path_prefix"] == "other" && labels["method"] == "GET" {
			if labels["status_code"] != "404" {
				t.Errorf("status_code = %q, want %q", labels["status_code"], "404")
			}
			return
		}
	}
	t.Error("expected predict_proxy_http_requests_total with path_prefix=other, method=GET, status_code=404")
}
