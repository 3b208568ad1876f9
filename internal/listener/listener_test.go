package listener

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// flakyListener fails Accept with its queued errors before accepting for real.
type flakyListener struct {
	net.Listener

	mu   sync.Mutex
	errs []error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()
	return l.Listener.Accept()
}

func newTCPListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResilient_RetriesTransientErrors(t *testing.T) {
	base := newTCPListener(t)
	flaky := &flakyListener{
		Listener: base,
		errs: []error{
			errors.New("accept tcp: too many open files"),
			errors.New("accept tcp: connection aborted"),
		},
	}
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_listener_errors_total"})
	ln := Wrap(flaky, testLogger(), WithRetryInterval(time.Millisecond), WithErrorCounter(counter))
	defer func() { _ = ln.Close() }()

	go func() {
		conn, err := net.Dial("tcp", base.Addr().String())
		if err == nil {
			_ = conn.Close()
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v, want transient errors retried", err)
	}
	_ = conn.Close()

	if got := testutil.ToFloat64(counter); got != 2 {
		t.Errorf("accept errors = %v, want 2", got)
	}
}

func TestResilient_ClosedListenerStops(t *testing.T) {
	ln := Wrap(newTCPListener(t), testLogger())

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	_ = ln.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("Accept() error = %v, want net.ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() did not return after Close")
	}
}

func TestResilient_CloseDuringBackoff(t *testing.T) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = errors.New("accept tcp: too many open files")
	}
	flaky := &flakyListener{Listener: newTCPListener(t), errs: errs}
	ln := Wrap(flaky, testLogger(), WithRetryInterval(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Accept() error = nil, want an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Accept() stayed in backoff after Close")
	}
}
