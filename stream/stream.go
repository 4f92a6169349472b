// Package stream moves bytes from a reader to a writer through one fixed-size
// buffer.
//
// The Copier does not know which content source or which compression mode is
// in play; callers plug in whatever reader and writer the transfer needs. It
// counts the bytes it reads, not the bytes that reach the wire. When a
// source-side encoder sits between the raw source and the Copier, place a
// Meter under the encoder to count raw source bytes instead.
package stream

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// DefaultBufferSize is the copy buffer used when none is configured.
const DefaultBufferSize = 64 * 1024

var (
	// ErrRead indicates the source failed mid-copy.
	ErrRead = errors.New("read failed")

	// ErrWrite indicates the sink failed mid-copy.
	ErrWrite = errors.New("write failed")
)

// TimeProvider abstracts the clock so throughput can be tested deterministically.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time { return time.Now() }

// Stats describes a finished copy.
type Stats struct {
	Bytes   uint64
	Elapsed time.Duration
}

// Rate returns the average throughput in bytes per second.
func (s Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Elapsed.Seconds()
}

// Copier is a bounded-buffer copy loop. The zero value is ready to use.
type Copier struct {
	// BufferSize is the size of the intermediate buffer.
	BufferSize int
	// TimeProvider times the copy for Stats. Nil uses the system clock.
	TimeProvider TimeProvider
}

// Copy reads src until io.EOF, writing every chunk to dst, and returns the
// number of bytes read. On any failure the count is discarded and the error
// wraps ErrRead or ErrWrite together with the cause.
func (c *Copier) Copy(dst io.Writer, src io.Reader) (uint64, error) {
	stats, err := c.CopyStats(dst, src)
	if err != nil {
		return 0, err
	}
	return stats.Bytes, nil
}

// CopyStats is Copy with elapsed time reported alongside the byte count.
func (c *Copier) CopyStats(dst io.Writer, src io.Reader) (Stats, error) {
	clock := c.TimeProvider
	if clock == nil {
		clock = RealTimeProvider{}
	}
	size := c.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	start := clock.Now()

	var total uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			written, werr := dst.Write(buf[:n])
			if werr == nil && written != n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return Stats{}, fmt.Errorf("%w after %d bytes: %w", ErrWrite, total, werr)
			}
			total += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Stats{}, fmt.Errorf("%w after %d bytes: %w", ErrRead, total, rerr)
		}
	}
	return Stats{Bytes: total, Elapsed: clock.Now().Sub(start)}, nil
}

// Meter counts the bytes read through it.
type Meter struct {
	r io.Reader
	n uint64
}

// NewMeter returns a Meter reading from r.
func NewMeter(r io.Reader) *Meter {
	return &Meter{r: r}
}

func (m *Meter) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	m.n += uint64(n)
	return n, err
}

// Count returns the number of bytes read so far.
func (m *Meter) Count() uint64 { return m.n }
