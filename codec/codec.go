// Package codec wraps a byte endpoint in a streaming compression encoder.
//
// Each Mode decorates exactly one side of a transfer. LZ4 and Zstd wrap the
// sink: bytes written to the wrapped writer are compressed before they reach
// the connection, and Finish must run after the last payload byte so the frame
// trailer is written. Gzip wraps the source: the wrapped reader yields the
// compressed form of whatever the underlying reader produces and emits the
// trailer itself when the source reaches io.EOF. None passes bytes through.
// Bzip2 and Xz are recognized names that are never implemented; New rejects
// them with ErrUnsupported so a caller cannot silently fall back to None.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var (
	// ErrUnsupported indicates a recognized compression mode with no encoder.
	ErrUnsupported = errors.New("compression mode not supported")

	// ErrUnknownMode indicates a compression name that is not recognized at all.
	ErrUnknownMode = errors.New("unknown compression mode")
)

// Mode selects the compression applied to a transfer.
type Mode uint8

const (
	// None sends the payload unmodified.
	None Mode = iota
	// LZ4 compresses into an LZ4 frame of 64 KiB blocks with content checksum.
	LZ4
	// Gzip compresses into a gzip member at the fastest level.
	Gzip
	// Bzip2 is recognized but not supported.
	Bzip2
	// Xz is recognized but not supported.
	Xz
	// Zstd compresses into a zstd frame at the fastest level.
	Zstd
)

var modeNames = []string{
	None:  "none",
	LZ4:   "lz4",
	Gzip:  "gzip",
	Bzip2: "bzip2",
	Xz:    "xz",
	Zstd:  "zstd",
}

// String returns the lower-case name of the mode.
func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("unknown(%d)", m)
}

// ParseMode parses a mode name. Matching is case-insensitive and the empty
// string selects None.
func ParseMode(name string) (Mode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return None, nil
	}
	for m, n := range modeNames {
		if n == name {
			return Mode(m), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// Names lists every recognized mode name, supported or not.
func Names() []string {
	out := make([]string, len(modeNames))
	copy(out, modeNames)
	return out
}

// Supported reports whether the mode has an encoder.
func (m Mode) Supported() bool {
	switch m {
	case None, LZ4, Gzip, Zstd:
		return true
	default:
		return false
	}
}

// WrapsSource reports whether the mode decorates the readable side.
func (m Mode) WrapsSource() bool { return m == Gzip }

// WrapsSink reports whether the mode decorates the writable side.
func (m Mode) WrapsSink() bool { return m == LZ4 || m == Zstd }

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if int(m) >= len(modeNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, m)
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Codec decorates the two endpoints of one transfer. A Codec is single use:
// wrap the source and the sink once, copy, then call Finish.
type Codec struct {
	mode    Mode
	chunk   int
	encoder io.WriteCloser
	done    bool
}

// Option configures a Codec.
type Option func(*Codec)

// WithChunkSize sets how much the source-side encoder pulls from its input
// per read.
func WithChunkSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.chunk = n
		}
	}
}

// New returns a Codec for mode. Unsupported and unknown modes fail here,
// before the caller performs any I/O.
func New(mode Mode, opts ...Option) (*Codec, error) {
	if int(mode) >= len(modeNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
	if !mode.Supported() {
		return nil, fmt.Errorf("%s: %w", mode, ErrUnsupported)
	}
	c := &Codec{mode: mode, chunk: defaultChunkSize}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mode returns the mode the codec was built for.
func (c *Codec) Mode() Mode { return c.mode }

// WrapReader returns r decorated with the source-side encoder, or r itself
// when the mode does not wrap the source.
func (c *Codec) WrapReader(r io.Reader) io.Reader {
	if c.mode != Gzip {
		return r
	}
	return newGzipEncodingReader(r, c.chunk)
}

// WrapWriter returns w decorated with the sink-side encoder, or w itself when
// the mode does not wrap the sink.
func (c *Codec) WrapWriter(w io.Writer) (io.Writer, error) {
	switch c.mode {
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.BlockSizeOption(lz4.Block64Kb), lz4.ChecksumOption(true)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		c.encoder = zw
		return zw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
			// An empty payload still produces a frame the peer can validate.
			zstd.WithZeroFrames(true),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		c.encoder = zw
		return zw, nil
	default:
		return w, nil
	}
}

// Finish writes the trailing frame metadata of a sink-side encoder. It must
// run after the last payload write and before the connection closes. Calling
// it again, or on a mode without a sink-side encoder, does nothing.
func (c *Codec) Finish() error {
	if c.encoder == nil || c.done {
		return nil
	}
	c.done = true
	if err := c.encoder.Close(); err != nil {
		return fmt.Errorf("%s finalize: %w", c.mode, err)
	}
	return nil
}

// NewDecoder returns a reader yielding the decompressed form of r. It is the
// receiving counterpart of a Codec and is used by peers and tests.
func NewDecoder(mode Mode, r io.Reader) (io.ReadCloser, error) {
	switch mode {
	case None:
		return io.NopCloser(r), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case Bzip2, Xz:
		return nil, fmt.Errorf("%s: %w", mode, ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, mode)
	}
}
