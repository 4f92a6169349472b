// Package remote asks a peer for a free TCP port over a command-execution
// channel and provides the SSH session that carries such channels.
//
// The negotiation is a single command:
//
//	qft get-free-port --start-port <start> --end-port <end> -q
//
// The reply on standard output must begin with the decimal port number.
// Anything after the leading digits is ignored; anything before them breaks
// the negotiation. The remote side of the protocol is FindFreePort, exposed by
// the qft binary as the get-free-port command.
package remote

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/opd-ai/qft/observer"
)

// IANA dynamic (private) port range.
const (
	DynamicPortStart uint16 = 49152
	DynamicPortEnd   uint16 = 65535
)

// CommandName is the remote command that reports a free port.
const CommandName = "qft get-free-port"

var (
	// ErrParse indicates the remote reply did not begin with a valid port.
	ErrParse = errors.New("remote reply is not a port number")

	// ErrChannel indicates the remote command could not be run or its exit
	// status was not delivered.
	ErrChannel = errors.New("remote command channel failed")

	// ErrInvalidRange indicates a port range whose start exceeds its end.
	ErrInvalidRange = errors.New("invalid port range")

	// ErrNoFreePort indicates no port in the range could be bound.
	ErrNoFreePort = errors.New("no free port in range")
)

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Start uint16
	End   uint16
}

// DefaultPortRange returns the IANA dynamic port range.
func DefaultPortRange() PortRange {
	return PortRange{Start: DynamicPortStart, End: DynamicPortEnd}
}

// Validate rejects ranges that contain no port.
func (r PortRange) Validate() error {
	if r.Start > r.End {
		return fmt.Errorf("%w: start %d is above end %d", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// BelowDynamicRange reports whether the range starts below DynamicPortStart.
func (r PortRange) BelowDynamicRange() bool {
	return r.Start < DynamicPortStart
}

// Command returns the quiet get-free-port command line for the range.
func (r PortRange) Command() string {
	return fmt.Sprintf("%s --start-port %d --end-port %d -q", CommandName, r.Start, r.End)
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Exit describes how a remote command terminated.
type Exit struct {
	Status  uint32
	Signal  string
	Message string
}

// ExecChannel runs a single command on a remote peer.
type ExecChannel interface {
	// Run sends cmd, waits for it to terminate, and returns its exit and the
	// raw bytes it wrote to standard output. A non-zero exit is not an error;
	// an error means the command could not run or its exit was never reported.
	Run(cmd string) (Exit, []byte, error)
	io.Closer
}

// Session opens command-execution channels.
type Session interface {
	OpenExec() (ExecChannel, error)
}

// NegotiatePortOverSession opens an exec channel on s, negotiates a port and
// closes the channel.
func NegotiatePortOverSession(s Session, r PortRange, obs observer.Observer) (uint16, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	ch, err := s.OpenExec()
	if err != nil {
		return 0, fmt.Errorf("%w: open exec channel: %w", ErrChannel, err)
	}
	defer ch.Close()
	return NegotiatePort(ch, r, obs)
}

// NegotiatePort asks the peer behind ch for a free port in r.
//
// A range starting below the dynamic port range is reported to obs as an
// advisory and requested anyway. The remote exit status and termination
// message are reported but do not decide the outcome; the parsed reply does.
func NegotiatePort(ch ExecChannel, r PortRange, obs observer.Observer) (uint16, error) {
	obs = observer.OrNop(obs)
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if r.BelowDynamicRange() {
		obs.Observe(observer.Event{
			Kind: observer.KindAdvisory,
			Detail: fmt.Sprintf(
				"Specified start port %d is outside of the IANA recommended range for dynamic ports (%d-%d)",
				r.Start, DynamicPortStart, DynamicPortEnd),
		})
	}

	cmd := r.Command()
	obs.Observe(observer.Event{Kind: observer.KindRemoteCommand, Detail: cmd})
	exit, out, err := ch.Run(cmd)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrChannel, cmd, err)
	}
	obs.Observe(observer.Event{Kind: observer.KindRemoteExit, Status: exit.Status, Detail: exit.Message})
	obs.Observe(observer.Event{Kind: observer.KindRemoteOutput, Raw: out})

	return ParsePort(out)
}

// ParsePort reads the port from the maximal run of ASCII digits at the start
// of out. An empty run, a value above 65535 or the value 0 is ErrParse.
func ParsePort(out []byte) (uint16, error) {
	n := 0
	for n < len(out) && out[n] >= '0' && out[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: reply %q does not start with a digit", ErrParse, truncate(out))
	}
	port, err := strconv.ParseUint(string(out[:n]), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is out of range", ErrParse, out[:n])
	}
	if port == 0 {
		return 0, fmt.Errorf("%w: port 0", ErrParse)
	}
	return uint16(port), nil
}

func truncate(b []byte) []byte {
	const limit = 32
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
