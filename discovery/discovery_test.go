package discovery

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

// fakeQuerier answers with addr after delay, or blocks until ctx ends when
// addr is nil.
type fakeQuerier struct {
	addr   net.Addr
	err    error
	delay  time.Duration
	names  []string
	closed bool
}

func (f *fakeQuerier) Query(ctx context.Context, name string) (dnsmessage.ResourceHeader, net.Addr, error) {
	f.names = append(f.names, name)
	if f.err != nil {
		return dnsmessage.ResourceHeader{}, nil, f.err
	}
	if f.addr == nil {
		<-ctx.Done()
		return dnsmessage.ResourceHeader{}, nil, errors.New("mDNS: context has elapsed")
	}
	select {
	case <-time.After(f.delay):
		return dnsmessage.ResourceHeader{}, f.addr, nil
	case <-ctx.Done():
		return dnsmessage.ResourceHeader{}, nil, errors.New("mDNS: context has elapsed")
	}
}

func (f *fakeQuerier) Close() error {
	f.closed = true
	return nil
}

func resolverFor(q *fakeQuerier, timeout time.Duration) *Resolver {
	return &Resolver{
		Open:    func() (Querier, error) { return q, nil },
		Timeout: timeout,
	}
}

func TestResolveFound(t *testing.T) {
	q := &fakeQuerier{addr: &net.IPAddr{IP: net.IPv4(192, 168, 1, 20)}}
	res, err := resolverFor(q, time.Second).Resolve(context.Background(), "receiver.local.")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "receiver.local", res.Hostname)
	assert.Equal(t, []string{"receiver.local"}, q.names)
	assert.True(t, q.closed)

	ip, ok := res.IP(IPv4)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), ip, "v4-mapped answers are unmapped")

	_, ok = res.IP(IPv6)
	assert.False(t, ok)
}

func TestResolveIPv6(t *testing.T) {
	q := &fakeQuerier{addr: &net.IPAddr{IP: net.ParseIP("fe80::1")}}
	res, err := resolverFor(q, time.Second).Resolve(context.Background(), "receiver.local")
	require.NoError(t, err)

	ip, ok := res.IP(IPv6)
	require.True(t, ok)
	assert.Equal(t, "fe80::1", ip.String())
}

func TestResolveNotFoundIsNotAnError(t *testing.T) {
	q := &fakeQuerier{}
	res, err := resolverFor(q, 20*time.Millisecond).Resolve(context.Background(), "nobody.local")
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.True(t, q.closed)

	var nilRes *Resolved
	_, ok := nilRes.IP(IPv4)
	assert.False(t, ok)
}

func TestResolveParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resolverFor(&fakeQuerier{}, time.Minute).Resolve(ctx, "receiver.local")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveQueryFailure(t *testing.T) {
	q := &fakeQuerier{err: errors.New("mDNS: connection is closed")}
	_, err := resolverFor(q, time.Second).Resolve(context.Background(), "receiver.local")
	assert.Error(t, err)
}

func TestResolveOpenFailure(t *testing.T) {
	r := &Resolver{Open: func() (Querier, error) { return nil, errors.New("no multicast") }}
	_, err := r.Resolve(context.Background(), "receiver.local")
	assert.ErrorContains(t, err, "no multicast")
}

func TestResolveEmptyHostname(t *testing.T) {
	_, err := resolverFor(&fakeQuerier{}, time.Second).Resolve(context.Background(), " ")
	assert.Error(t, err)
}

func TestParseIPVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    IPVersion
		wantErr bool
	}{
		{"v4", IPv4, false},
		{"IPv4", IPv4, false},
		{"", IPv4, false},
		{"6", IPv6, false},
		{"v6", IPv6, false},
		{"v5", IPv4, true},
	}
	for _, tt := range tests {
		got, err := ParseIPVersion(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.want.String(), got.String())
	}
}

func TestLoggerFactoryRoutesToLogrus(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	l := LoggerFactory{Logger: logger}.NewLogger("mdns")
	l.Warnf("Failed to parse mDNS packet %v", "short buffer")
	l.Trace("hidden at debug level")

	out := buf.String()
	assert.Contains(t, out, "scope=mdns")
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "short buffer")
	assert.NotContains(t, out, "hidden")
}
