package metrics

import (
	"testing"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	// Vec collectors only show up once a child exists.
	m.RequestsTotal.WithLabelValues("GET", "200", ModePlain).Inc()
	m.PipelineOutcomes.WithLabelValues("done", "ok").Inc()
	m.ListenerErrors.Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"onion_proxy_http_requests_total":     false,
		"onion_proxy_pipeline_outcomes_total": false,
		"onion_proxy_listener_errors_total":   false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"PROPFIND", "other"},
		{"get", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"plain", ModePlain, ModePlain},
		{"fake https", ModeFakeHTTPS, ModeFakeHTTPS},
		{"unset", nil, ModeRejected},
		{"unknown string", "tls", ModeRejected},
		{"wrong type", 42, ModeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeMode(tt.in); got != tt.want {
				t.Errorf("NormalizeMode(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
