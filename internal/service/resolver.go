package service

import (
	"strings"

	"onion-proxy-go/internal/model"
)

// EndpointResolver builds the upstream target for a validated request.
type EndpointResolver struct{}

// NewEndpointResolver creates an EndpointResolver.
func NewEndpointResolver() *EndpointResolver {
	return &EndpointResolver{}
}

// Resolve returns the upstream target. requestURI is the raw request-target;
// its path and query are kept byte-for-byte.
func (r *EndpointResolver) Resolve(d model.ProxyDecision, requestURI string) model.UpstreamTarget {
	scheme := model.SchemeHTTP
	if d.UseFakeHTTPS {
		scheme = model.SchemeHTTPSLabel
	}
	return model.UpstreamTarget{
		Scheme:     scheme,
		Host:       d.NormalizedHost,
		RequestURI: originForm(requestURI),
	}
}

// originForm reduces an absolute-form request-target to path and query.
// Anything else passes through; an empty target becomes "/".
func originForm(requestURI string) string {
	if requestURI == "" {
		return "/"
	}
	if requestURI[0] == '/' || requestURI == "*" {
		return requestURI
	}
	_, rest, ok := strings.Cut(requestURI, "://")
	if !ok {
		return requestURI
	}
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		if rest[i] == '?' {
			return "/" + rest[i:]
		}
		return rest[i:]
	}
	return "/"
}
