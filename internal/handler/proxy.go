package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"onion-proxy-go/internal/client"
	"onion-proxy-go/internal/metrics"
	"onion-proxy-go/internal/model"
	"onion-proxy-go/internal/pump"
	"onion-proxy-go/internal/service"
)

// Pump directions, used as the PumpedBytes label.
const (
	directionRequest  = "request"
	directionResponse = "response"
)

// Pipeline outcome label values.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeCanceled = "canceled"
)

// ProxyHandler forwards every request on the proxy listener to the hidden
// service named by its Host header and streams the response back.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. m may be nil.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// pipeline is the per-request state of Handle.
type pipeline struct {
	stage    model.Stage
	decision model.ProxyDecision
	target   model.UpstreamTarget
}

// Handle runs one request through validation, resolution, dispatch and streaming.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	p := &pipeline{stage: model.StageValidating}

	in := &model.InboundRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		RequestURI:    req.RequestURI,
		Host:          req.Host,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	d, err := h.service.Decide(in)
	if err != nil {
		return h.mapError(c, p, err)
	}
	p.decision = d
	if d.UseFakeHTTPS {
		c.Set(metrics.ModeKey, metrics.ModeFakeHTTPS)
	} else {
		c.Set(metrics.ModeKey, metrics.ModePlain)
	}

	p.stage = model.StageResolving
	p.target = h.service.Resolve(d, in)

	p.stage = model.StageDispatching
	rc := http.NewResponseController(c.Response())
	var reqBody *pump.Stream
	var body io.Reader
	if req.ContentLength != 0 {
		// Let the request body keep flowing while the response is written.
		_ = rc.EnableFullDuplex()
		reqBody = pump.Start(req.Body)
		body = reqBody
	}

	ex, err := h.service.Forward(in.Ctx, d, p.target, in, body)
	if err != nil {
		h.finishRequestPump(rc, reqBody)
		return h.mapError(c, p, err)
	}
	defer func() { _ = ex.Body.Close() }()

	p.stage = model.StageStreaming
	dst := c.Response().Header()
	for key, vals := range ex.Header {
		dst[key] = vals
	}
	// Keep net/http from adding headers the hidden service did not send.
	for _, key := range []string{"Content-Type", "Date"} {
		if _, ok := dst[key]; !ok {
			dst[key] = nil
		}
	}
	c.Response().WriteHeader(ex.StatusCode)

	// Status is already sent; a failed copy can only truncate the response.
	n, err := pump.Copy(c.Response(), ex.Body)
	h.addBytes(directionResponse, n)
	if err != nil {
		h.logPumpError(p, directionResponse, err)
	}

	h.finishRequestPump(rc, reqBody)

	p.stage = model.StageDone
	h.recordOutcome(p.stage, outcomeOK)
	return nil
}

// finishRequestPump stops the request pump and waits for it when the client
// read can be interrupted. Without a read deadline there is nothing to unblock
// a pump stuck reading the client, so it is left to end with the connection.
func (h *ProxyHandler) finishRequestPump(rc *http.ResponseController, s *pump.Stream) {
	if s == nil {
		return
	}
	_ = s.Close()

	var res pump.Result
	select {
	case res = <-s.Done():
	default:
		// The pump has to be released as soon as the exchange ends. Expiring the
		// read deadline does that; writers without deadlines keep it until the
		// connection closes.
		if err := rc.SetReadDeadline(time.Now()); err != nil {
			h.logger.Debug("request body pump left running until the connection closes", "err", err)
			return
		}
		res = <-s.Done()
	}

	h.addBytes(directionRequest, res.Bytes)
	if res.Err != nil && !errors.Is(res.Err, io.ErrClosedPipe) {
		h.logger.Debug("request body pump ended early", "err", res.Err, "bytes", res.Bytes)
	}
}

func (h *ProxyHandler) mapError(c echo.Context, p *pipeline, err error) error {
	failed := p.stage
	p.stage = model.StageErrored

	switch {
	case errors.Is(err, service.ErrMissingHost):
		h.logger.Debug("rejected request", "stage", failed, "err", err)
		h.recordOutcome(failed, outcomeError)
		return c.String(http.StatusBadRequest, `Empty or missing "Host" header`)

	case errors.Is(err, service.ErrUnsupportedTarget):
		h.logger.Debug("rejected request", "stage", failed, "err", err)
		h.recordOutcome(failed, outcomeError)
		return c.String(http.StatusBadRequest, "Can only proxy *"+h.service.Suffix()+" addresses")
	}

	host := p.decision.NormalizedHost
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Debug("client went away before upstream answered",
			"stage", failed, "host", host, "err", err)
		h.recordOutcome(failed, outcomeCanceled)
	case errors.Is(err, client.ErrUpstreamUnreachable):
		h.logger.Error("upstream unreachable",
			"stage", failed, "host", host, "target", p.target.String(), "err", err)
		h.recordOutcome(failed, outcomeError)
	default:
		h.logger.Error("proxy error",
			"stage", failed, "host", host, "target", p.target.String(), "err", err)
		h.recordOutcome(failed, outcomeError)
	}

	// The cause stays in the log; the client only learns which host failed.
	return c.String(http.StatusInternalServerError,
		`Internal error (onion site "`+host+`" may not exist)`)
}

func (h *ProxyHandler) logPumpError(p *pipeline, direction string, err error) {
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("stream canceled", "direction", direction, "host", p.decision.NormalizedHost)
		return
	}
	h.logger.Warn("streaming body",
		"direction", direction,
		"host", p.decision.NormalizedHost,
		"err", err,
	)
}

func (h *ProxyHandler) recordOutcome(stage model.Stage, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.PipelineOutcomes.WithLabelValues(string(stage), outcome).Inc()
}

func (h *ProxyHandler) addBytes(direction string, n int64) {
	if h.metrics == nil || n <= 0 {
		return
	}
	h.metrics.PumpedBytes.WithLabelValues(direction).Add(float64(n))
}
