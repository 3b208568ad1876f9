package service

import (
	"net/http"
	"strings"

	"onion-proxy-go/internal/config"
	"onion-proxy-go/internal/model"
	"onion-proxy-go/internal/rewrite"
)

// cspHeaders are rewritten for plain-mode responses.
var cspHeaders = []string{
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
}

// HeaderRewriter keeps the fake-HTTPS illusion intact across request and response headers.
type HeaderRewriter struct {
	rewriteResponses bool
	prefix           string
}

// NewHeaderRewriter creates a HeaderRewriter.
func NewHeaderRewriter(cfg *config.Config) *HeaderRewriter {
	return &HeaderRewriter{
		rewriteResponses: cfg.Tunnel.RewriteHeadersForFakeHTTPS,
		prefix:           strings.ToLower(cfg.Tunnel.FakeHTTPSPrefix),
	}
}

// RewriteRequest returns a copy of h for the upstream request. In fake-HTTPS
// mode an http Origin is upgraded to https so the hidden service's origin
// checks pass. Host and every other header are left alone.
func (r *HeaderRewriter) RewriteRequest(h http.Header, rc model.HeaderRewriteContext) http.Header {
	out := h.Clone()
	if out == nil {
		out = make(http.Header)
	}
	if !rc.UseFakeHTTPS {
		return out
	}
	origins := out.Values("Origin")
	for i, v := range origins {
		if strings.HasPrefix(v, "http:") {
			origins[i] = "https:" + v[len("http:"):]
		}
	}
	return out
}

// RewriteResponse returns a copy of h for the client. With rewriting disabled
// the copy is identical to h.
//
// Fake-HTTPS: Location "https://<host>" → "http://<prefix><host>".
// Plain: Content-Security-Policy "https://<host>" → "http://<original host>".
func (r *HeaderRewriter) RewriteResponse(h http.Header, rc model.HeaderRewriteContext) http.Header {
	out := h.Clone()
	if !r.rewriteResponses || out == nil {
		return out
	}

	from := "https://" + rc.NormalizedHost
	if rc.UseFakeHTTPS {
		if vals := out.Values("Location"); len(vals) > 0 {
			rep := rewrite.NewReplacer(from, "http://"+r.prefix+rc.NormalizedHost)
			replaceValues(out, "Location", rep)
		}
		return out
	}

	var rep *rewrite.Replacer
	for _, name := range cspHeaders {
		if len(out.Values(name)) == 0 {
			continue
		}
		if rep == nil {
			rep = rewrite.NewReplacer(from, "http://"+rc.OriginalHost)
		}
		replaceValues(out, name, rep)
	}
	return out
}

func replaceValues(h http.Header, name string, rep *rewrite.Replacer) {
	key := http.CanonicalHeaderKey(name)
	if vals, changed := rep.ReplaceAll(h[key]); changed {
		h[key] = vals
	}
}
