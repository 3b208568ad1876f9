// Package tunneltest runs an in-process SOCKS5 tunnel for tests. Every name the
// tunnel is asked to reach is routed to a single upstream address.
package tunneltest

import (
	"context"
	"io"
	"log"
	"net"
	"sync"
	"testing"

	"github.com/armon/go-socks5"
)

// Tunnel is a running SOCKS5 server.
type Tunnel struct {
	// Addr is the listen address, usable as a socks5h proxy address.
	Addr string

	mu       sync.Mutex
	names    []string
	upstream string
}

// Start starts a tunnel forwarding every connection to upstream.
// The tunnel is closed when the test finishes.
func Start(t testing.TB, upstream string) *Tunnel {
	t.Helper()

	tun := &Tunnel{upstream: upstream}

	srv, err := socks5.New(&socks5.Config{
		Resolver: tun,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, tun.Upstream())
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("socks5.New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tun.Addr = ln.Addr().String()

	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return tun
}

// Resolve records the name and resolves it to loopback.
func (t *Tunnel) Resolve(ctx context.Context, name string) (context.Context, net.IP, error) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	return ctx, net.IPv4(127, 0, 0, 1), nil
}

// Names returns every name the tunnel was asked to resolve, in order.
func (t *Tunnel) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.names...)
}

// SetUpstream changes where new connections go.
func (t *Tunnel) SetUpstream(addr string) {
	t.mu.Lock()
	t.upstream = addr
	t.mu.Unlock()
}

// Upstream returns where new connections go.
func (t *Tunnel) Upstream() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.upstream
}
