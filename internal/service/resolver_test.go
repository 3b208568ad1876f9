package service

import (
	"testing"

	"onion-proxy-go/internal/model"
)

func TestEndpointResolver_Resolve(t *testing.T) {
	r := NewEndpointResolver()

	tests := []struct {
		name       string
		decision   model.ProxyDecision
		requestURI string
		wantScheme model.Scheme
		wantURL    string
	}{
		{
			name:       "plain",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion"},
			requestURI: "/index.html",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion/index.html",
		},
		{
			name:       "fake https keeps the wire scheme",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion", UseFakeHTTPS: true},
			requestURI: "/a?b=1",
			wantScheme: model.SchemeHTTPSLabel,
			wantURL:    "http://example.onion/a?b=1",
		},
		{
			name:       "encoded bytes kept",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion"},
			requestURI: "/a%2Fb/%7Euser/../c?q=%20x&q=y#frag",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion/a%2Fb/%7Euser/../c?q=%20x&q=y#frag",
		},
		{
			name:       "empty target",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion"},
			requestURI: "",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion/",
		},
		{
			name:       "absolute form",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion"},
			requestURI: "http://example.onion/path?x=1",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion/path?x=1",
		},
		{
			name:       "absolute form without path",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion"},
			requestURI: "http://example.onion?x=1",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion/?x=1",
		},
		{
			name:       "port kept",
			decision:   model.ProxyDecision{NormalizedHost: "example.onion:8080"},
			requestURI: "/",
			wantScheme: model.SchemeHTTP,
			wantURL:    "http://example.onion:8080/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.decision, tt.requestURI)
			if got.Scheme != tt.wantScheme {
				t.Errorf("Scheme = %q, want %q", got.Scheme, tt.wantScheme)
			}
			if got.String() != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.String(), tt.wantURL)
			}
		})
	}
}

func TestOriginForm(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/", "/"},
		{"", "/"},
		{"*", "*"},
		{"/p?q", "/p?q"},
		{"http://h", "/"},
		{"http://h/", "/"},
		{"https://h/x/y", "/x/y"},
		{"http://h?q=1", "/?q=1"},
	}

	for _, tt := range tests {
		if got := originForm(tt.in); got != tt.want {
			t.Errorf("originForm(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
