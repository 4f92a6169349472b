package qft

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/opd-ai/qft/codec"
	"github.com/opd-ai/qft/observer"
	"github.com/opd-ai/qft/source"
	"github.com/opd-ai/qft/stream"
)

// DefaultBufferSize is the source read buffer, connection write buffer and
// copy buffer used when Config.BufferSize is zero.
const DefaultBufferSize = 64 * 1024

// Dialer opens the transport connection of a transfer. *net.Dialer satisfies
// it, and so does an SSH session that tunnels connections to the remote host.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SourceOpener opens the content source of a transfer. *source.Opener
// satisfies it.
type SourceOpener interface {
	Open(spec source.Spec) (source.Source, error)
}

// Options describe one transfer. They are read-only once Send is called.
type Options struct {
	// Source selects stdin, a buffered file or a memory-mapped file.
	Source source.Spec
	// Compression selects the codec. The zero value sends raw bytes.
	Compression codec.Mode
	// Preallocate announces the source file size before the payload.
	// It requires a file-backed source.
	Preallocate bool
	// Message is written ahead of the payload on a best-effort basis.
	Message []byte
}

// Result describes a successful transfer.
type Result struct {
	// BytesTransferred counts bytes read from the raw source, before any
	// compression. It is the same for every codec.
	BytesTransferred uint64
	// Elapsed is the time spent streaming the payload.
	Elapsed time.Duration
}

// Config configures a Client. The zero value is usable.
type Config struct {
	// Dialer opens connections. Nil uses a *net.Dialer.
	Dialer Dialer
	// Observer receives lifecycle events. Nil discards them.
	Observer observer.Observer
	// BufferSize sizes every intermediate buffer. Zero uses DefaultBufferSize.
	BufferSize int
	// Stdin replaces os.Stdin for stdin sources.
	Stdin io.Reader
	// Opener opens content sources. Nil uses a *source.Opener reading Stdin
	// with BufferSize.
	Opener SourceOpener
	// TimeProvider times the payload copy. Nil uses the system clock.
	TimeProvider stream.TimeProvider
}

// Client sends transfers. A Client holds no per-transfer state and may be
// used for any number of sequential or concurrent transfers.
type Client struct {
	dialer     Dialer
	obs        observer.Observer
	bufferSize int
	opener     SourceOpener
	clock      stream.TimeProvider
}

// NewClient returns a Client configured by cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		dialer:     cfg.Dialer,
		obs:        observer.OrNop(cfg.Observer),
		bufferSize: cfg.BufferSize,
		opener:     cfg.Opener,
		clock:      cfg.TimeProvider,
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{}
	}
	if c.bufferSize <= 0 {
		c.bufferSize = DefaultBufferSize
	}
	if c.opener == nil {
		c.opener = &source.Opener{Stdin: cfg.Stdin, BufferSize: c.bufferSize}
	}
	return c
}

var defaultClient = NewClient(Config{})

// Send transfers with a default Client: a plain TCP dialer and no observer.
func Send(ctx context.Context, target Target, opts Options) (Result, error) {
	return defaultClient.Send(ctx, target, opts)
}

// Send performs one transfer to target.
//
// Everything that can be checked locally is checked before dialing: the
// options, the compression mode, the file size when preallocating, and
// opening the source. ctx bounds the dial only; once connected, a transfer is
// aborted by closing the connection, which surfaces as ErrIO.
//
// The connection, the source and any memory mapping are released before Send
// returns, on success and on every error path. On error no Result is
// returned: callers cannot know how much of the payload arrived.
func (c *Client) Send(ctx context.Context, target Target, opts Options) (Result, error) {
	enc, err := c.validate(target, opts)
	if err != nil {
		return Result{}, err
	}

	var size uint64
	if opts.Preallocate {
		size, err = opts.Source.Size()
		if err != nil {
			return Result{}, newError("stat", "", ErrSource, err)
		}
	}

	src, err := c.opener.Open(opts.Source)
	if err != nil {
		return Result{}, newError("open", "", ErrSource, err)
	}
	defer src.Close()
	c.obs.Observe(observer.Event{Kind: observer.KindSourceOpened, Detail: opts.Source.String()})
	c.obs.Observe(observer.Event{Kind: observer.KindCompression, Detail: enc.Mode().String()})

	addr := target.String()
	c.obs.Observe(observer.Event{Kind: observer.KindConnecting, Addr: addr})
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, newError("connect", addr, ErrConnection, err)
	}
	defer conn.Close()
	c.obs.Observe(observer.Event{Kind: observer.KindConnected, Addr: addr})

	if opts.Preallocate {
		c.obs.Observe(observer.Event{Kind: observer.KindPreallocating, Addr: addr, Bytes: size})
		if err := writeSizeHeader(conn, size); err != nil {
			return Result{}, newError("preallocate", addr, ErrConnection, err)
		}
	}

	if len(opts.Message) > 0 {
		c.sendMessage(conn, addr, opts.Message)
	}

	return c.stream(conn, addr, src, enc)
}

// Validate runs the checks Send performs on opts before touching the
// filesystem or the network: the source selection, preallocation on a
// non-file source (ErrConfig) and the compression mode (ErrCodec). Callers
// that must resolve the target first, through discovery or an SSH session,
// call it before doing so.
func (c *Client) Validate(opts Options) error {
	_, err := c.validateOptions(opts)
	return err
}

func (c *Client) validate(target Target, opts Options) (*codec.Codec, error) {
	if !target.IsValid() {
		return nil, newError("validate", "", ErrConfig, errors.New("target has no address"))
	}
	return c.validateOptions(opts)
}

func (c *Client) validateOptions(opts Options) (*codec.Codec, error) {
	if err := opts.Source.Validate(); err != nil {
		return nil, newError("validate", "", ErrConfig, err)
	}
	if opts.Preallocate && !opts.Source.IsFile() {
		return nil, newError("validate", "", ErrConfig,
			fmt.Errorf("preallocation requires a file source, got %s", opts.Source.Kind))
	}
	enc, err := codec.New(opts.Compression, codec.WithChunkSize(c.bufferSize))
	if err != nil {
		return nil, newError("validate", "", ErrCodec, err)
	}
	return enc, nil
}

// writeSizeHeader writes the preallocation header straight to the connection
// so it precedes any buffered payload.
func writeSizeHeader(w io.Writer, size uint64) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], size)
	n, err := w.Write(hdr[:])
	if err == nil && n != len(hdr) {
		err = io.ErrShortWrite
	}
	return err
}

// sendMessage writes the inline message. A failure is reported to the
// observer and otherwise ignored; the payload is attempted regardless.
func (c *Client) sendMessage(conn net.Conn, addr string, msg []byte) {
	n, err := conn.Write(msg)
	if err == nil && n != len(msg) {
		err = io.ErrShortWrite
	}
	if err != nil {
		c.obs.Observe(observer.Event{Kind: observer.KindMessageFailed, Addr: addr, Err: err})
		return
	}
	c.obs.Observe(observer.Event{
		Kind:   observer.KindMessageSent,
		Addr:   addr,
		Bytes:  uint64(len(msg)),
		Detail: string(msg),
	})
}

// stream copies the payload: raw source, metered, through the source-side
// codec, into the sink-side codec over a buffered connection writer.
func (c *Client) stream(conn net.Conn, addr string, src io.Reader, enc *codec.Codec) (Result, error) {
	wire := &sinkWriter{w: conn}
	bw := bufio.NewWriterSize(wire, c.bufferSize)
	sink, err := enc.WrapWriter(bw)
	if err != nil {
		return Result{}, newError("encode", addr, ErrCodec, err)
	}
	meter := stream.NewMeter(src)
	reader := enc.WrapReader(meter)

	copier := &stream.Copier{BufferSize: c.bufferSize, TimeProvider: c.clock}
	stats, err := copier.CopyStats(sink, reader)
	if err != nil {
		op := "write"
		if errors.Is(err, stream.ErrRead) {
			op = "read"
		}
		return Result{}, newError(op, addr, ErrIO, err)
	}

	if err := enc.Finish(); err != nil {
		// Sink-side encoders hold back up to one block, so the connection
		// may first fail while the trailer flushes it.
		if wire.err != nil {
			return Result{}, newError("write", addr, ErrIO, fmt.Errorf("%w: %w", stream.ErrWrite, wire.err))
		}
		return Result{}, newError("finalize", addr, ErrCodec, err)
	}
	if err := bw.Flush(); err != nil {
		return Result{}, newError("flush", addr, ErrIO, err)
	}

	result := Result{BytesTransferred: meter.Count(), Elapsed: stats.Elapsed}
	c.obs.Observe(observer.Event{Kind: observer.KindSent, Addr: addr, Bytes: result.BytesTransferred})
	return result, nil
}

// sinkWriter remembers the first error returned by the connection.
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}
