// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// InboundRequest represents a client request to be forwarded through the tunnel.
type InboundRequest struct {
	Ctx           context.Context
	Method        string
	RequestURI    string // raw request-target, path and query exactly as received
	Host          string // Host header value
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyDecision is the validated routing decision for one request.
type ProxyDecision struct {
	OriginalHost   string
	NormalizedHost string
	UseFakeHTTPS   bool
}

// RewriteContext returns the header rewrite context for this decision.
func (d ProxyDecision) RewriteContext() HeaderRewriteContext {
	return HeaderRewriteContext{
		OriginalHost:   d.OriginalHost,
		NormalizedHost: d.NormalizedHost,
		UseFakeHTTPS:   d.UseFakeHTTPS,
	}
}

// Scheme labels the local dispatch path. It never implies TLS.
type Scheme string

const (
	SchemeHTTP       Scheme = "http"
	SchemeHTTPSLabel Scheme = "https-label"
)

// UpstreamTarget is the canonical upstream address of a request.
type UpstreamTarget struct {
	Scheme     Scheme
	Host       string
	RequestURI string
}

// URL returns the wire URL. The tunnel always speaks plain HTTP, whatever the label.
// The path travels in Opaque so it is written to the request line without re-escaping.
func (t UpstreamTarget) URL() *url.URL {
	path, query, hasQuery := strings.Cut(t.RequestURI, "?")
	if strings.HasPrefix(path, "//") {
		// Origin-form would read as an authority; send absolute-form instead.
		path = "//" + t.Host + path
	}
	return &url.URL{
		Scheme:     "http",
		Host:       t.Host,
		Opaque:     path,
		RawQuery:   query,
		ForceQuery: hasQuery && query == "",
	}
}

// String returns the wire URL as text, path and query byte-for-byte as received.
func (t UpstreamTarget) String() string {
	return "http://" + t.Host + t.RequestURI
}

// HeaderRewriteContext carries the host names both header passes need.
type HeaderRewriteContext struct {
	OriginalHost   string
	NormalizedHost string
	UseFakeHTTPS   bool
}

// OutboundRequest is what the tunnel dispatcher sends upstream.
type OutboundRequest struct {
	Method        string
	Target        UpstreamTarget
	Host          string // Host header value sent upstream
	Header        http.Header
	Body          io.Reader // nil or http.NoBody for no body
	ContentLength int64     // -1 when unknown
}

// UpstreamExchange is the live upstream response. The caller owns Body and must close it.
type UpstreamExchange struct {
	Target     UpstreamTarget
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Stage is a RequestPipeline state.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageResolving   Stage = "resolving"
	StageDispatching Stage = "dispatching"
	StageStreaming   Stage = "streaming"
	StageDone        Stage = "done"
	StageErrored     Stage = "errored"
)
