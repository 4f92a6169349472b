// Package source provides the readable end of a transfer.
//
// A Spec selects exactly one backend for the lifetime of a transfer:
// standard input, a buffered regular file, or a read-only memory mapping of a
// regular file. Whichever backend is chosen, the caller receives a Source that
// reads sequentially until io.EOF and must be closed when the transfer ends.
// Closing a memory-mapped Source unmaps it.
//
//	src, err := source.Open(source.Mmap("/data/disk.img"))
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//	io.Copy(dst, src)
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBufferSize is the read buffer placed in front of stdin and files.
const DefaultBufferSize = 64 * 1024

var (
	// ErrEmptyFile indicates a zero-length file was selected for memory mapping.
	ErrEmptyFile = errors.New("cannot memory map an empty file")

	// ErrNotSized indicates the source has no length known ahead of the transfer.
	ErrNotSized = errors.New("source has no known size")

	// ErrMmapUnsupported indicates memory mapping is not available on this platform.
	ErrMmapUnsupported = errors.New("memory mapping is not supported on this platform")

	// ErrNotRegular indicates the path does not name a regular file.
	ErrNotRegular = errors.New("not a regular file")
)

// MapError reports a failure to memory map a file. It is kept distinct from
// read errors so callers can tell "this file cannot be mapped" apart from
// "the disk read failed".
type MapError struct {
	Path string
	Err  error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("mmap %s: %v", e.Path, e.Err)
}

func (e *MapError) Unwrap() error {
	return e.Err
}

// Kind is the backend a Spec selects.
type Kind uint8

const (
	// KindStdin reads the process's standard input.
	KindStdin Kind = iota
	// KindFile reads a regular file through a read buffer.
	KindFile
	// KindMmap maps a regular file into memory and reads from the mapping.
	KindMmap
)

// String returns the backend name.
func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindFile:
		return "file"
	case KindMmap:
		return "mmap"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Spec selects the content source of one transfer.
type Spec struct {
	Kind Kind
	Path string
}

// Stdin selects standard input.
func Stdin() Spec { return Spec{Kind: KindStdin} }

// File selects a buffered regular file.
func File(path string) Spec { return Spec{Kind: KindFile, Path: path} }

// Mmap selects a memory-mapped regular file.
func Mmap(path string) Spec { return Spec{Kind: KindMmap, Path: path} }

// IsFile reports whether the spec reads from a path on disk.
func (s Spec) IsFile() bool {
	return s.Kind == KindFile || s.Kind == KindMmap
}

// String describes the spec for logs.
func (s Spec) String() string {
	if s.IsFile() {
		return fmt.Sprintf("%s:%s", s.Kind, s.Path)
	}
	return s.Kind.String()
}

// Validate checks the spec without touching the filesystem.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindStdin:
		return nil
	case KindFile, KindMmap:
		if s.Path == "" {
			return fmt.Errorf("%s source requires a path", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown source kind %d", s.Kind)
	}
}

// Size returns the length of a file-backed source. Stdin has no size and
// returns ErrNotSized.
func (s Spec) Size() (uint64, error) {
	if !s.IsFile() {
		return 0, ErrNotSized
	}
	info, err := os.Stat(s.Path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: %w", s.Path, ErrNotRegular)
	}
	return uint64(info.Size()), nil
}

// Source is an open content source. The set of implementations is closed:
// stdin, buffered file and memory mapping.
type Source interface {
	io.ReadCloser
	Kind() Kind
}

// Opener opens Specs. The zero value reads os.Stdin with DefaultBufferSize.
type Opener struct {
	// Stdin replaces os.Stdin for KindStdin sources.
	Stdin io.Reader
	// BufferSize is the read buffer for stdin and buffered files.
	BufferSize int
}

// Open opens spec with the default Opener.
func Open(spec Spec) (Source, error) {
	return (&Opener{}).Open(spec)
}

// Open returns the Source selected by spec.
func (o *Opener) Open(spec Spec) (Source, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case KindStdin:
		return o.openStdin(), nil
	case KindFile:
		src, err := o.openFile(spec.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return openMmap(spec.Path)
	}
}

func (o *Opener) bufferSize() int {
	if o.BufferSize > 0 {
		return o.BufferSize
	}
	return DefaultBufferSize
}

type stdinSource struct {
	*bufio.Reader
}

func (o *Opener) openStdin() *stdinSource {
	var in io.Reader = os.Stdin
	if o.Stdin != nil {
		in = o.Stdin
	}
	return &stdinSource{Reader: bufio.NewReaderSize(in, o.bufferSize())}
}

func (s *stdinSource) Kind() Kind { return KindStdin }

// Close is a no-op: standard input belongs to the process.
func (s *stdinSource) Close() error { return nil }

type fileSource struct {
	*bufio.Reader
	file *os.File
}

func (o *Opener) openFile(path string) (*fileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	return &fileSource{
		Reader: bufio.NewReaderSize(f, o.bufferSize()),
		file:   f,
	}, nil
}

func (s *fileSource) Kind() Kind { return KindFile }

func (s *fileSource) Close() error {
	return s.file.Close()
}
