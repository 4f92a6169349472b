// Package observer carries transfer lifecycle events out of the engine.
//
// The engine packages never log on their own. They report what happened to an
// Observer supplied by the caller, which may forward the events to logrus
// (see NewLogrus), record them for assertions in tests (see Recorder), or drop
// them (see Nop).
//
// Example:
//
//	rec := &observer.Recorder{}
//	client := qft.NewClient(qft.Config{Observer: rec})
//	_, err := client.Send(ctx, target, opts)
//	for _, ev := range rec.Events() {
//	    fmt.Println(ev.Kind, ev.Detail)
//	}
package observer

import (
	"fmt"
	"sync"
)

// Kind identifies what an Event reports.
type Kind uint8

const (
	// KindSourceOpened reports that the content source is open and readable.
	KindSourceOpened Kind = iota
	// KindCompression reports the compression mode selected for a transfer.
	KindCompression
	// KindConnecting reports that a connection attempt is about to start.
	KindConnecting
	// KindConnected reports an established transport connection.
	KindConnected
	// KindPreallocating reports the size announced to the peer.
	KindPreallocating
	// KindMessageSent reports a successful inline message write.
	KindMessageSent
	// KindMessageFailed reports a failed inline message write. The transfer continues.
	KindMessageFailed
	// KindSent reports the final byte count of a finished transfer.
	KindSent
	// KindAdvisory reports a non-fatal warning.
	KindAdvisory
	// KindRemoteCommand reports a command sent over a remote execution channel.
	KindRemoteCommand
	// KindRemoteExit reports the exit status and termination message of a remote command.
	KindRemoteExit
	// KindRemoteOutput reports the raw output captured from a remote command.
	KindRemoteOutput
)

var kindNames = map[Kind]string{
	KindSourceOpened:  "source_opened",
	KindCompression:   "compression",
	KindConnecting:    "connecting",
	KindConnected:     "connected",
	KindPreallocating: "preallocating",
	KindMessageSent:   "message_sent",
	KindMessageFailed: "message_failed",
	KindSent:          "sent",
	KindAdvisory:      "advisory",
	KindRemoteCommand: "remote_command",
	KindRemoteExit:    "remote_exit",
	KindRemoteOutput:  "remote_output",
}

// String returns the snake_case name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", k)
}

// Event is a single lifecycle notification. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind   Kind
	Addr   string
	Bytes  uint64
	Status uint32
	Detail string
	Raw    []byte
	Err    error
}

// Observer receives events synchronously on the goroutine running the transfer.
// Implementations must not block for long.
type Observer interface {
	Observe(ev Event)
}

// Func adapts a plain function to the Observer interface.
type Func func(ev Event)

// Observe calls f(ev).
func (f Func) Observe(ev Event) { f(ev) }

type nop struct{}

func (nop) Observe(Event) {}

// Nop discards every event.
var Nop Observer = nop{}

// OrNop returns o, or Nop when o is nil.
func OrNop(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// Multi fans an event out to several observers in order.
func Multi(observers ...Observer) Observer {
	return Func(func(ev Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(ev)
			}
		}
	})
}

// Recorder keeps every observed event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Observe appends ev to the recorded events.
func (r *Recorder) Observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

// Find returns the first recorded event of the given kind.
func (r *Recorder) Find(kind Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}
