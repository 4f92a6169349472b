//go:build unix

package source

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mmapSource reads from a read-only shared mapping of the whole file.
type mmapSource struct {
	*bytes.Reader
	path string
	data []byte
	once sync.Once
	err  error
}

func openMmap(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// The mapping stays valid after the descriptor is closed.
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, &MapError{Path: path, Err: ErrNotRegular}
	}
	size := info.Size()
	if size == 0 {
		return nil, &MapError{Path: path, Err: ErrEmptyFile}
	}
	if size > math.MaxInt {
		return nil, &MapError{Path: path, Err: fmt.Errorf("file size %d exceeds address space", size)}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &MapError{Path: path, Err: err}
	}
	// Read-ahead hint only; a kernel that refuses it still serves the mapping.
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)

	return &mmapSource{
		Reader: bytes.NewReader(data),
		path:   path,
		data:   data,
	}, nil
}

func (s *mmapSource) Kind() Kind { return KindMmap }

// Close unmaps the file. Reads after Close return io.EOF.
func (s *mmapSource) Close() error {
	s.once.Do(func() {
		s.Reader.Reset(nil)
		if err := unix.Munmap(s.data); err != nil {
			s.err = &MapError{Path: s.path, Err: err}
		}
		s.data = nil
	})
	return s.err
}
