package qft

import (
	"fmt"
	"net/netip"
	"strings"
)

// Target is the resolved address of a receiver. It is produced once, by a
// direct parse, a discovery lookup or a remote port negotiation, and not
// changed afterwards.
type Target struct {
	Addr netip.Addr
	Port uint16
}

// NewTarget returns the target at addr:port.
func NewTarget(addr netip.Addr, port uint16) Target {
	return Target{Addr: addr.Unmap(), Port: port}
}

// ParseTarget parses an IPv4 or IPv6 literal. IPv6 literals may be given with
// or without brackets.
func ParseTarget(ip string, port uint16) (Target, error) {
	ip = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ip), "["), "]")
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Target{}, fmt.Errorf("parse target address: %w", err)
	}
	return NewTarget(addr, port), nil
}

// AddrPort returns the target as a netip.AddrPort.
func (t Target) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(t.Addr, t.Port)
}

// IsValid reports whether the target has an address.
func (t Target) IsValid() bool {
	return t.Addr.IsValid()
}

// String returns host:port, bracketing IPv6 addresses.
func (t Target) String() string {
	return t.AddrPort().String()
}
