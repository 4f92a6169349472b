package remote

import (
	"fmt"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"
)

// FindFreePort returns the first port in r that a TCP listener can bind on
// all interfaces. It is the remote side of NegotiatePort.
func FindFreePort(r PortRange) (uint16, error) {
	return findFreePort(r, tcpPortFree)
}

func findFreePort(r PortRange, free func(port uint16) bool) (uint16, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	// uint32 so that End == 65535 terminates.
	for p := uint32(r.Start); p <= uint32(r.End); p++ {
		if p == 0 {
			continue
		}
		if free(uint16(p)) {
			logrus.WithFields(logrus.Fields{
				"function": "FindFreePort",
				"range":    r.String(),
				"port":     p,
			}).Debug("Found free port")
			return uint16(p), nil
		}
	}
	return 0, fmt.Errorf("%w %s", ErrNoFreePort, r)
}

func tcpPortFree(port uint16) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
