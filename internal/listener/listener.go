// Package listener keeps the proxy accepting connections through transient accept failures.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultRetryInterval is the minimum pause between accept retries.
const DefaultRetryInterval = 100 * time.Millisecond

// Resilient is a net.Listener whose Accept only fails once the listener is closed.
// Other accept errors (descriptor exhaustion, aborted handshakes) are logged,
// counted and retried after a short pause.
type Resilient struct {
	net.Listener

	limiter  *rate.Limiter
	logEvery rate.Sometimes
	failures prometheus.Counter
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Resilient listener.
type Option func(*Resilient)

// WithRetryInterval sets the minimum pause between accept retries.
func WithRetryInterval(d time.Duration) Option {
	return func(r *Resilient) {
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithErrorCounter counts every retried accept error.
func WithErrorCounter(c prometheus.Counter) Option {
	return func(r *Resilient) {
		r.failures = c
	}
}

// Wrap returns ln wrapped so that transient accept errors never reach the server.
func Wrap(ln net.Listener, logger *slog.Logger, opts ...Option) *Resilient {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resilient{
		Listener: ln,
		limiter:  rate.NewLimiter(rate.Every(DefaultRetryInterval), 1),
		logEvery: rate.Sometimes{Interval: time.Second},
		logger:   logger.With("component", "listener", "addr", ln.Addr().String()),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Accept waits for the next connection.
func (r *Resilient) Accept() (net.Conn, error) {
	for {
		conn, err := r.Listener.Accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) || r.ctx.Err() != nil {
			return nil, err
		}

		if r.failures != nil {
			r.failures.Inc()
		}
		r.logEvery.Do(func() {
			r.logger.Warn("accept failed, retrying", "err", err)
		})

		if werr := r.limiter.Wait(r.ctx); werr != nil {
			return nil, err
		}
	}
}

// Close closes the underlying listener and stops any pending retry.
func (r *Resilient) Close() error {
	r.cancel()
	return r.Listener.Close()
}
