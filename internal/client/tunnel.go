// Package client provides the HTTP client that reaches hidden services through the SOCKS tunnel.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"onion-proxy-go/internal/config"
	"onion-proxy-go/internal/metrics"
	"onion-proxy-go/internal/model"
)

// ErrUpstreamUnreachable matches every dispatch failure.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// UnreachableError reports a request that could not get upstream response headers.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("upstream %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrUpstreamUnreachable) hold for any UnreachableError.
func (e *UnreachableError) Is(target error) bool { return target == ErrUpstreamUnreachable }

// TunnelClient sends requests to hidden services through the SOCKS tunnel.
// One pooled transport serves both dispatch schemes; the scheme only picks
// the labelled client a request goes through.
type TunnelClient struct {
	transport *http.Transport
	clients   map[model.Scheme]*http.Client
	logger    *slog.Logger
}

// NewTunnelClient creates a TunnelClient with connection pooling and a bounded connect timeout.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewTunnelClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*TunnelClient, error) {
	dial, err := newTunnelDialer(cfg)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         dial,
		MaxIdleConns:        cfg.Tunnel.IdleConnections,
		MaxIdleConnsPerHost: cfg.Tunnel.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		// Bodies and Accept-Encoding are relayed untouched.
		DisableCompression:    true,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     false,
	}

	logger = logger.With("component", "tunnel_client")
	clients := make(map[model.Scheme]*http.Client, 2)
	for _, scheme := range []model.Scheme{model.SchemeHTTP, model.SchemeHTTPSLabel} {
		clients[scheme] = &http.Client{
			Transport: &labelledTransport{scheme: scheme, base: transport, metrics: m},
			// Redirects belong to the client; relay them as they are.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &TunnelClient{
		transport: transport,
		clients:   clients,
		logger:    logger,
	}, nil
}

// newTunnelDialer returns a DialContext that goes through the SOCKS proxy and
// gives up on connection setup after the configured connect timeout.
func newTunnelDialer(cfg *config.Config) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := config.ParseProxyAddress(cfg.Tunnel.ProxyAddress)
	if err != nil {
		return nil, fmt.Errorf("parse tunnel proxy address: %w", err)
	}

	timeout := time.Duration(cfg.Tunnel.ConnectTimeoutSeconds) * time.Second
	forward := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	d, err := proxy.FromURL(u, forward)
	if err != nil {
		return nil, fmt.Errorf("create tunnel dialer for %s: %w", u.Redacted(), err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("tunnel dialer for %s does not support contexts", u.Redacted())
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return cd.DialContext(ctx, network, addr)
	}, nil
}

// Dispatch sends out through the tunnel and returns once response headers arrive.
// The caller is responsible for closing the returned body. The context controls
// the whole exchange: canceling it (e.g. client disconnect) tears down the
// tunnel connection and the response body.
func (c *TunnelClient) Dispatch(ctx context.Context, out *model.OutboundRequest) (*model.UpstreamExchange, error) {
	client, ok := c.clients[out.Target.Scheme]
	if !ok {
		return nil, fmt.Errorf("unknown dispatch scheme %q", out.Target.Scheme)
	}

	req, err := c.newRequest(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	c.logger.Debug("upstream request",
		"method", out.Method,
		"target", out.Target.String(),
		"scheme", out.Target.Scheme,
	)

	resp, err := client.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamExchange
	if err != nil {
		return nil, &UnreachableError{Host: out.Target.Host, Err: err}
	}

	return &model.UpstreamExchange{
		Target:     out.Target,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func (c *TunnelClient) newRequest(ctx context.Context, out *model.OutboundRequest) (*http.Request, error) {
	body := out.Body
	if body == nil || out.ContentLength == 0 {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, out.Method, "http://"+out.Target.Host+"/", body)
	if err != nil {
		return nil, err
	}
	req.URL = out.Target.URL()
	req.Header = out.Header
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Host != "" {
		req.Host = out.Host
	}
	if body != http.NoBody {
		req.ContentLength = out.ContentLength
	}
	// Do not let net/http add its own User-Agent to a relayed request.
	if _, ok := req.Header["User-Agent"]; !ok {
		req.Header["User-Agent"] = []string{""}
	}
	return req, nil
}

// CloseIdleConnections drops pooled tunnel connections.
func (c *TunnelClient) CloseIdleConnections() {
	c.transport.CloseIdleConnections()
}

// labelledTransport records upstream metrics under its dispatch scheme.
type labelledTransport struct {
	scheme  model.Scheme
	base    http.RoundTripper
	metrics *metrics.Metrics
}

func (t *labelledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Seconds()

	if t.metrics == nil {
		return resp, err
	}

	method := metrics.NormalizeMethod(req.Method)
	scheme := string(t.scheme)
	t.metrics.UpstreamDuration.WithLabelValues(method, scheme).Observe(duration)
	if err != nil {
		t.metrics.UpstreamFailures.WithLabelValues(method, scheme).Inc()
		return resp, err
	}
	t.metrics.UpstreamResponses.WithLabelValues(method, scheme, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}
