package qft

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/qft/source"
)

// ---------------------------------------------------------------------------
// mockTimeProvider advances a fixed step on every call.
// ---------------------------------------------------------------------------

type mockTimeProvider struct {
	current time.Time
	step    time.Duration
}

func (m *mockTimeProvider) Now() time.Time {
	now := m.current
	m.current = m.current.Add(m.step)
	return now
}

// ---------------------------------------------------------------------------
// countingDialer records dial attempts and delegates to a dial function.
// ---------------------------------------------------------------------------

type countingDialer struct {
	mu    sync.Mutex
	dials int
	dial  func(ctx context.Context, network, address string) (net.Conn, error)
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	if d.dial == nil {
		return (&net.Dialer{}).DialContext(ctx, network, address)
	}
	return d.dial(ctx, network, address)
}

func (d *countingDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// ---------------------------------------------------------------------------
// scriptedConn is a net.Conn whose writes follow a script. Only Write and
// Close are used by the client.
// ---------------------------------------------------------------------------

type scriptedConn struct {
	net.Conn

	mu         sync.Mutex
	failFirst  int   // number of initial writes that fail
	limit      int   // bytes accepted before every write fails; <0 means unlimited
	writeErr   error // error returned by failing writes
	written    []byte
	closed     bool
	writeCalls int
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeCalls++
	if c.failFirst > 0 {
		c.failFirst--
		return 0, c.writeErr
	}
	if c.limit >= 0 && len(c.written)+len(p) > c.limit {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func connDialer(conn net.Conn) *countingDialer {
	return &countingDialer{dial: func(context.Context, string, string) (net.Conn, error) {
		return conn, nil
	}}
}

var errReset = errors.New("connection reset by peer")

// ---------------------------------------------------------------------------
// startReceiver accepts a single connection on loopback and returns
// everything the sender wrote before closing.
// ---------------------------------------------------------------------------

func startReceiver(t *testing.T) (Target, <-chan []byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(received)
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	ap := ln.Addr().(*net.TCPAddr).AddrPort()
	return NewTarget(ap.Addr(), ap.Port()), received
}

func waitReceived(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "receiver did not accept a connection")
		return data
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for receiver")
		return nil
	}
}

// ---------------------------------------------------------------------------
// trackingOpener opens real sources and remembers them so tests can check
// that the client closed them.
// ---------------------------------------------------------------------------

type trackingOpener struct {
	mu     sync.Mutex
	opened []*trackedSource
}

func (o *trackingOpener) Open(spec source.Spec) (source.Source, error) {
	src, err := (&source.Opener{}).Open(spec)
	if err != nil {
		return nil, err
	}
	tracked := &trackedSource{Source: src}
	o.mu.Lock()
	o.opened = append(o.opened, tracked)
	o.mu.Unlock()
	return tracked, nil
}

func (o *trackingOpener) sources() []*trackedSource {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*trackedSource(nil), o.opened...)
}

type trackedSource struct {
	source.Source

	mu     sync.Mutex
	closed bool
}

func (s *trackedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Source.Close()
}

func (s *trackedSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
