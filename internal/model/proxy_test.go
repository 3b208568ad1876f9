package model

import "testing"

func TestUpstreamTarget_URL(t *testing.T) {
	tests := []struct {
		name           string
		target         UpstreamTarget
		wantRequestURI string
		wantString     string
	}{
		{
			name:           "path and query",
			target:         UpstreamTarget{Scheme: SchemeHTTP, Host: "example.onion", RequestURI: "/a?b=1"},
			wantRequestURI: "/a?b=1",
			wantString:     "http://example.onion/a?b=1",
		},
		{
			name:           "escapes kept",
			target:         UpstreamTarget{Scheme: SchemeHTTP, Host: "example.onion", RequestURI: "/a%2Fb/%7e?q=%20"},
			wantRequestURI: "/a%2Fb/%7e?q=%20",
			wantString:     "http://example.onion/a%2Fb/%7e?q=%20",
		},
		{
			name:           "empty query kept",
			target:         UpstreamTarget{Scheme: SchemeHTTP, Host: "example.onion", RequestURI: "/a?"},
			wantRequestURI: "/a?",
			wantString:     "http://example.onion/a?",
		},
		{
			name:           "label never changes the wire scheme",
			target:         UpstreamTarget{Scheme: SchemeHTTPSLabel, Host: "example.onion", RequestURI: "/"},
			wantRequestURI: "/",
			wantString:     "http://example.onion/",
		},
		{
			name:           "double slash path",
			target:         UpstreamTarget{Scheme: SchemeHTTP, Host: "example.onion", RequestURI: "//x"},
			wantRequestURI: "http://example.onion//x",
			wantString:     "http://example.onion//x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.target.URL()
			if u.Scheme != "http" {
				t.Errorf("URL().Scheme = %q, want http", u.Scheme)
			}
			if u.Host != tt.target.Host {
				t.Errorf("URL().Host = %q, want %q", u.Host, tt.target.Host)
			}
			if got := u.RequestURI(); got != tt.wantRequestURI {
				t.Errorf("URL().RequestURI() = %q, want %q", got, tt.wantRequestURI)
			}
			if got := tt.target.String(); got != tt.wantString {
				t.Errorf("String() = %q, want %q", got, tt.wantString)
			}
		})
	}
}

func TestProxyDecision_RewriteContext(t *testing.T) {
	d := ProxyDecision{OriginalHost: "https-a.onion", NormalizedHost: "a.onion", UseFakeHTTPS: true}
	rc := d.RewriteContext()
	if rc.OriginalHost != d.OriginalHost || rc.NormalizedHost != d.NormalizedHost || rc.UseFakeHTTPS != d.UseFakeHTTPS {
		t.Errorf("RewriteContext() = %+v, want fields of %+v", rc, d)
	}
}
