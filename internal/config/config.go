// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/onion-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Proxy    string `kong:"help='SOCKS tunnel address, e.g. socks5h://127.0.0.1:9050 (overrides config).',env='TUNNEL_PROXY'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Tunnel  TunnelConfig  `toml:"tunnel"`
	Admin   AdminConfig   `toml:"admin"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds the proxy listener settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// TunnelConfig holds the SOCKS tunnel and fake-HTTPS settings.
type TunnelConfig struct {
	ProxyAddress               string `toml:"proxy_address"`
	RewriteHeadersForFakeHTTPS bool   `toml:"rewrite_headers_for_fake_https"`
	ConnectTimeoutSeconds      int    `toml:"connect_timeout_seconds"`
	IdleConnections            int    `toml:"idle_connections"`
	HiddenServiceSuffix        string `toml:"hidden_service_suffix"`
	FakeHTTPSPrefix            string `toml:"fake_https_prefix"`
	FakeHTTPSHeader            string `toml:"fake_https_header"`
}

// AdminConfig holds the health/status/metrics listener settings.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/onion-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Proxy != "" {
		c.Tunnel.ProxyAddress = cli.Proxy
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Tunnel address: required, SOCKS5 only.
	if c.Tunnel.ProxyAddress == "" {
		return fmt.Errorf("tunnel.proxy_address is required")
	}
	u, err := ParseProxyAddress(c.Tunnel.ProxyAddress)
	if err != nil {
		return fmt.Errorf("tunnel.proxy_address is not valid: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return fmt.Errorf("tunnel.proxy_address must use socks5 or socks5h; got %q", u.Scheme)
	}
	if u.Port() == "" {
		return fmt.Errorf("tunnel.proxy_address must include a port; got %q", u.Redacted())
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("admin.port must be 0–65535; got %d", c.Admin.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Tunnel.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("tunnel.connect_timeout_seconds must be non-negative; got %d", c.Tunnel.ConnectTimeoutSeconds)
	}
	if c.Tunnel.IdleConnections < 0 {
		return fmt.Errorf("tunnel.idle_connections must be non-negative; got %d", c.Tunnel.IdleConnections)
	}

	// Hostname conventions.
	if s := c.Tunnel.HiddenServiceSuffix; s != "" && !strings.HasPrefix(s, ".") {
		return fmt.Errorf("tunnel.hidden_service_suffix must start with '.'; got %q", s)
	}
	if p := c.Tunnel.FakeHTTPSPrefix; p != "" && !strings.HasSuffix(p, "-") {
		return fmt.Errorf("tunnel.fake_https_prefix must end with '-'; got %q", p)
	}
	if h := c.Tunnel.FakeHTTPSHeader; strings.ContainsAny(h, " \t:") {
		return fmt.Errorf("tunnel.fake_https_header is not a valid header name; got %q", h)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}
	if c.Metrics.Enabled && !c.Admin.Enabled {
		return fmt.Errorf("metrics.enabled requires admin.enabled; metrics are served on the admin listener")
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, ConnectTimeoutSeconds, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. BodyMaxBytes is the
// exception: zero keeps the request body unlimited.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Tunnel.ConnectTimeoutSeconds == 0 {
		c.Tunnel.ConnectTimeoutSeconds = 60
	}
	if c.Tunnel.IdleConnections == 0 {
		c.Tunnel.IdleConnections = 100
	}
	if c.Tunnel.HiddenServiceSuffix == "" {
		c.Tunnel.HiddenServiceSuffix = ".onion"
	}
	if c.Tunnel.FakeHTTPSPrefix == "" {
		c.Tunnel.FakeHTTPSPrefix = "https-"
	}
	if c.Tunnel.FakeHTTPSHeader == "" {
		c.Tunnel.FakeHTTPSHeader = "X-Use-Https"
	}
	if c.Admin.Host == "" {
		c.Admin.Host = "127.0.0.1"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// ParseProxyAddress parses a tunnel address. A bare host:port is read as
// socks5h so that hidden-service names are resolved inside the tunnel.
func ParseProxyAddress(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "socks5h://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", addr)
	}
	return u, nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the admin listen address as host:port.
func (c *AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The tunnel address may carry SOCKS credentials.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
