// Package discovery resolves receiver hostnames on the local network with
// multicast DNS.
//
// A lookup that finds nothing before its timeout is not an error: Resolve
// returns a nil *Resolved and a nil error, and the caller decides whether a
// missing peer is fatal.
//
// Example:
//
//	res, err := discovery.Resolve(ctx, "receiver.local", 2*time.Second)
//	if err != nil {
//	    return err
//	}
//	if res == nil {
//	    return fmt.Errorf("receiver.local not found")
//	}
//	ip, ok := res.IP(discovery.IPv4)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/dns/dnsmessage"
)

// DefaultTimeout bounds a lookup when no timeout is given.
const DefaultTimeout = 2 * time.Second

// IPVersion selects an address family.
type IPVersion uint8

const (
	// IPv4 selects A records.
	IPv4 IPVersion = iota
	// IPv6 selects AAAA records.
	IPv6
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "v4"
	case IPv6:
		return "v6"
	default:
		return fmt.Sprintf("unknown(%d)", v)
	}
}

// ParseIPVersion accepts "v4", "4", "ipv4", "v6", "6" and "ipv6".
func ParseIPVersion(s string) (IPVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v4", "4", "ipv4", "":
		return IPv4, nil
	case "v6", "6", "ipv6":
		return IPv6, nil
	default:
		return IPv4, fmt.Errorf("unknown ip version %q", s)
	}
}

// Resolved is the outcome of a successful lookup.
type Resolved struct {
	Hostname string
	Addrs    []netip.Addr
}

// IP returns the first resolved address of the requested version.
func (r *Resolved) IP(version IPVersion) (netip.Addr, bool) {
	if r == nil {
		return netip.Addr{}, false
	}
	for _, addr := range r.Addrs {
		if version == IPv4 && addr.Is4() {
			return addr, true
		}
		if version == IPv6 && addr.Is6() {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// Querier sends mDNS queries. *mdns.Conn from github.com/pion/mdns satisfies it.
type Querier interface {
	Query(ctx context.Context, name string) (dnsmessage.ResourceHeader, net.Addr, error)
	Close() error
}

// Resolver performs mDNS lookups.
type Resolver struct {
	// Open creates the querier for one lookup. Nil opens a multicast
	// listener on all non-loopback interfaces.
	Open func() (Querier, error)
	// Timeout bounds each lookup. Zero uses DefaultTimeout.
	Timeout time.Duration
}

// Resolve looks up hostname with the default Resolver.
func Resolve(ctx context.Context, hostname string, timeout time.Duration) (*Resolved, error) {
	return (&Resolver{Timeout: timeout}).Resolve(ctx, hostname)
}

// Resolve looks up hostname. It returns (nil, nil) when no peer answers within
// the timeout and an error when ctx itself is cancelled or the multicast
// socket cannot be opened.
func (r *Resolver) Resolve(ctx context.Context, hostname string) (*Resolved, error) {
	name := strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if name == "" {
		return nil, errors.New("empty hostname")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	open := r.Open
	if open == nil {
		open = openMulticast
	}

	log := logrus.WithFields(logrus.Fields{
		"function": "Resolve",
		"hostname": name,
		"timeout":  timeout.String(),
	})

	q, err := open()
	if err != nil {
		return nil, fmt.Errorf("open mdns socket: %w", err)
	}
	defer q.Close()

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug("Querying mDNS")
	_, src, err := q.Query(qctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if qctx.Err() != nil {
			log.Debug("No mDNS answer before timeout")
			return nil, nil
		}
		return nil, fmt.Errorf("mdns query %s: %w", name, err)
	}

	addr, ok := addrOf(src)
	if !ok {
		return nil, fmt.Errorf("mdns query %s: unexpected answer address %v", name, src)
	}
	log.WithField("addr", addr.String()).Info("Resolved host via mDNS")
	return &Resolved{Hostname: name, Addrs: []netip.Addr{addr}}, nil
}

func addrOf(a net.Addr) (netip.Addr, bool) {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPAddr:
		ip = v.IP
	case *net.UDPAddr:
		ip = v.IP
	case *net.TCPAddr:
		ip = v.IP
	default:
		return netip.Addr{}, false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
