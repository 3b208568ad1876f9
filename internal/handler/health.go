package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"onion-proxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the admin health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusResponse is the body of GET /proxy/status.
type statusResponse struct {
	Status                     string `json:"status"`
	Version                    string `json:"version"`
	TunnelProxy                string `json:"tunnel_proxy"`
	HiddenServiceSuffix        string `json:"hidden_service_suffix"`
	RewriteHeadersForFakeHTTPS bool   `json:"rewrite_headers_for_fake_https"`
}

// Status returns proxy status information. Tunnel credentials are redacted.
func (h *HealthHandler) Status(c echo.Context) error {
	proxyAddr := h.cfg.Tunnel.ProxyAddress
	if u, err := config.ParseProxyAddress(proxyAddr); err == nil {
		proxyAddr = u.Redacted()
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:                     "ok",
		Version:                    string(h.version),
		TunnelProxy:                proxyAddr,
		HiddenServiceSuffix:        h.cfg.Tunnel.HiddenServiceSuffix,
		RewriteHeadersForFakeHTTPS: h.cfg.Tunnel.RewriteHeadersForFakeHTTPS,
	})
}
