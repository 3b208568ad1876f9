// Package service implements the per-request translation from an inbound
// request to a tunneled upstream request and back.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"onion-proxy-go/internal/model"
)

// Dispatcher sends a request through the tunnel.
type Dispatcher interface {
	Dispatch(ctx context.Context, out *model.OutboundRequest) (*model.UpstreamExchange, error)
}

// ProxyService ties validation, resolution, header rewriting and dispatch together.
type ProxyService struct {
	validator  *AddressValidator
	resolver   *EndpointResolver
	rewriter   *HeaderRewriter
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(
	v *AddressValidator,
	r *EndpointResolver,
	rw *HeaderRewriter,
	d Dispatcher,
	logger *slog.Logger,
) *ProxyService {
	return &ProxyService{
		validator:  v,
		resolver:   r,
		rewriter:   rw,
		dispatcher: d,
		logger:     logger.With("component", "proxy_service"),
	}
}

// Suffix returns the hidden-service suffix requests must target.
func (s *ProxyService) Suffix() string {
	return s.validator.Suffix()
}

// Decide validates the inbound Host header.
func (s *ProxyService) Decide(in *model.InboundRequest) (model.ProxyDecision, error) {
	return s.validator.Validate(in.Host, in.Header)
}

// Resolve builds the upstream target for a decision.
func (s *ProxyService) Resolve(d model.ProxyDecision, in *model.InboundRequest) model.UpstreamTarget {
	return s.resolver.Resolve(d, in.RequestURI)
}

// Forward rewrites the request headers, dispatches the request through the
// tunnel and rewrites the response headers. body replaces in.Body so the caller
// can pump the client body; contentLength is passed through unchanged.
// The caller is responsible for closing the returned exchange body.
func (s *ProxyService) Forward(ctx context.Context, d model.ProxyDecision, target model.UpstreamTarget, in *model.InboundRequest, body io.Reader) (*model.UpstreamExchange, error) {
	rc := d.RewriteContext()

	out := &model.OutboundRequest{
		Method:        in.Method,
		Target:        target,
		Host:          in.Host,
		Header:        s.rewriter.RewriteRequest(in.Header, rc),
		Body:          body,
		ContentLength: in.ContentLength,
	}

	s.logger.Debug("forwarding request",
		"method", in.Method,
		"target", target.String(),
		"scheme", target.Scheme,
	)

	ex, err := s.dispatcher.Dispatch(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", target.Host, err)
	}

	ex.Header = s.rewriter.RewriteResponse(ex.Header, rc)
	return ex, nil
}
