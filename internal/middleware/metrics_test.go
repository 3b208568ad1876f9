package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"onion-proxy-go/internal/metrics"
)

// requestLabels returns the label sets of every onion_proxy_http_requests_total series.
func requestLabels(t *testing.T, m *metrics.Metrics) []map[string]string {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	var out []map[string]string
	for _, f := range families {
		if f.GetName() != "onion_proxy_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if v := metric.GetCounter().GetValue(); v != 1 {
				t.Errorf("counter %v = %v, want 1", labels, v)
			}
			out = append(out, labels)
		}
	}
	return out
}

func TestMetricsMiddleware_ModeLabel(t *testing.T) {
	tests := []struct {
		name     string
		mode     any
		wantMode string
	}{
		{"plain", metrics.ModePlain, "plain"},
		{"fake https", metrics.ModeFakeHTTPS, "fake_https"},
		{"unset", nil, "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()

			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.Any("/*", func(c echo.Context) error {
				if tt.mode != nil {
					c.Set(metrics.ModeKey, tt.mode)
				}
				return c.String(http.StatusOK, "ok")
			})

			req := httptest.NewRequest(http.MethodGet, "/page", http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}

			series := requestLabels(t, m)
			if len(series) != 1 {
				t.Fatalf("got %d series, want 1", len(series))
			}
			if series[0]["mode"] != tt.wantMode {
				t.Errorf("mode = %q, want %q", series[0]["mode"], tt.wantMode)
			}
			if series[0]["status_code"] != "200" {
				t.Errorf("status_code = %q, want %q", series[0]["status_code"], "200")
			}
		})
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
		if f.GetName() == "onion_proxy_http_request_duration_seconds" {
			for _, metric := range f.GetMetric() {
				if metric.GetHistogram().GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected onion_proxy_http_request_duration_seconds with at least one sample")
	}
}

func TestMetricsMiddleware_HTTPErrorStatus(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too large")
	})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	series := requestLabels(t, m)
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	if series[0]["status_code"] != "413" {
		t.Errorf("status_code = %q, want %q", series[0]["status_code"], "413")
	}
}

func TestMetricsMiddleware_UnknownMethodNormalized(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.Any("/*", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest("XYZZY", "/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	series := requestLabels(t, m)
	if len(series) != 1 {
		t.Fatalf("got %d series, want 1", len(series))
	}
	if series[0]["method"] != "other" {
		t.Errorf("method = %q, want %q", series[0]["method"], "other")
	}
}

func TestMetricsMiddleware_InFlightReturnsToZero(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "onion_proxy_http_requests_in_flight" {
			if v := f.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("in flight = %v, want 0", v)
			}
			return
		}
	}
	t.Error("expected onion_proxy_http_requests_in_flight")
}
