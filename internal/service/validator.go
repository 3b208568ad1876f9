package service

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"onion-proxy-go/internal/config"
	"onion-proxy-go/internal/model"
)

var (
	// ErrMissingHost is returned when the Host header is absent or empty.
	ErrMissingHost = errors.New("empty or missing Host header")
	// ErrUnsupportedTarget is returned when the host is not a hidden-service name.
	ErrUnsupportedTarget = errors.New("target is not a hidden service")
)

// AddressValidator turns a Host header into a ProxyDecision.
type AddressValidator struct {
	suffix string
	prefix string
	marker string
}

// NewAddressValidator creates an AddressValidator from the tunnel hostname conventions.
func NewAddressValidator(cfg *config.Config) *AddressValidator {
	return &AddressValidator{
		suffix: strings.ToLower(cfg.Tunnel.HiddenServiceSuffix),
		prefix: strings.ToLower(cfg.Tunnel.FakeHTTPSPrefix),
		marker: http.CanonicalHeaderKey(cfg.Tunnel.FakeHTTPSHeader),
	}
}

// Suffix returns the required hidden-service suffix, e.g. ".onion".
func (v *AddressValidator) Suffix() string {
	return v.suffix
}

// Validate checks host and decides whether the client wants fake HTTPS.
//
// The fake-HTTPS prefix is taken off before the suffix check, so
// "https-name.onion" validates "name.onion". A port, if any, is kept on the
// normalized host.
func (v *AddressValidator) Validate(host string, header http.Header) (model.ProxyDecision, error) {
	original := host
	host = strings.TrimSpace(host)
	if host == "" {
		return model.ProxyDecision{}, ErrMissingHost
	}

	name, port := splitPort(host)
	name = strings.ToLower(name)

	useFakeHTTPS := v.hasMarker(header)
	if v.prefix != "" && strings.HasPrefix(name, v.prefix) {
		useFakeHTTPS = true
		name = name[len(v.prefix):]
	}

	if !strings.HasSuffix(name, v.suffix) || len(name) == len(v.suffix) {
		return model.ProxyDecision{}, fmt.Errorf("%w: %q", ErrUnsupportedTarget, original)
	}

	normalized := name
	if port != "" {
		normalized = net.JoinHostPort(name, port)
	}

	return model.ProxyDecision{
		OriginalHost:   original,
		NormalizedHost: normalized,
		UseFakeHTTPS:   useFakeHTTPS,
	}, nil
}

// hasMarker reports whether the fake-HTTPS marker header is present, whatever its value.
func (v *AddressValidator) hasMarker(header http.Header) bool {
	if v.marker == "" || header == nil {
		return false
	}
	_, ok := header[v.marker]
	return ok
}

// splitPort splits "name:port". Hosts without a port come back unchanged.
func splitPort(host string) (name, port string) {
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		return host, ""
	}
	return name, port
}
