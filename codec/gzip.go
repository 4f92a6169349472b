package codec

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

const defaultChunkSize = 64 * 1024

// gzipEncodingReader compresses its input on demand. Each Read pulls one chunk
// from the source, feeds it to the encoder and hands out whatever compressed
// bytes are ready. The gzip trailer is emitted when the source reports io.EOF.
type gzipEncodingReader struct {
	src   io.Reader
	zw    *gzip.Writer
	out   bytes.Buffer
	chunk []byte
	eof   bool
	err   error
}

func newGzipEncodingReader(src io.Reader, chunk int) *gzipEncodingReader {
	r := &gzipEncodingReader{
		src:   src,
		chunk: make([]byte, chunk),
	}
	zw, err := gzip.NewWriterLevel(&r.out, gzip.BestSpeed)
	if err != nil {
		// Only reachable with an invalid level.
		r.err = err
		return r
	}
	r.zw = zw
	return r
}

func (r *gzipEncodingReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for r.out.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.eof {
			return 0, io.EOF
		}
		r.fill()
	}
	return r.out.Read(p)
}

// fill moves one chunk from the source through the encoder.
func (r *gzipEncodingReader) fill() {
	n, err := r.src.Read(r.chunk)
	if n > 0 {
		if _, werr := r.zw.Write(r.chunk[:n]); werr != nil {
			r.err = werr
			return
		}
	}
	switch {
	case err == io.EOF:
		if cerr := r.zw.Close(); cerr != nil {
			r.err = cerr
			return
		}
		r.eof = true
	case err != nil:
		r.err = err
	}
}
