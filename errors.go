package qft

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Client.Send is an *Error whose Kind is
// one of these, so errors.Is(err, ErrIO) selects a whole class of failures.
var (
	// ErrConnection indicates the target was unreachable, refused the
	// connection, or reset it before the payload started.
	ErrConnection = errors.New("connection error")

	// ErrSource indicates the content source was missing, unreadable, or
	// could not be memory mapped.
	ErrSource = errors.New("source error")

	// ErrCodec indicates an unsupported compression mode or a failure to
	// finalize the compressed stream.
	ErrCodec = errors.New("codec error")

	// ErrIO indicates a read or write failed while the payload was streaming.
	ErrIO = errors.New("i/o error")

	// ErrConfig indicates options that can never produce a valid transfer.
	ErrConfig = errors.New("configuration error")
)

// Error describes a failed transfer operation.
type Error struct {
	Op   string // operation that failed: connect, open, stat, read, write, ...
	Addr string // target address, when one was involved
	Kind error  // one of the kind sentinels above
	Err  error  // underlying cause
}

func (e *Error) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("qft %s %s: %v: %v", e.Op, e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("qft %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func newError(op, addr string, kind, err error) *Error {
	return &Error{
		Op:   op,
		Addr: addr,
		Kind: kind,
		Err:  err,
	}
}
