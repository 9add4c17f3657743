// Package posreader implements PositionedReader (spec.md §4.5): a
// byte-offset-aware reader over a plain or gzip-compressed file, reporting
// the next readable offset in decompressed-byte terms so callers can persist
// and later resume from it (the receiver's "next" file).
package posreader

import (
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Reader wraps one entry's data file, tracking how many (decompressed)
// bytes have been read so far.
type Reader struct {
	file   *os.File
	gz     *gzip.Reader
	src    io.Reader
	offset int64
}

// Open opens path for sequential reading, starting at startOffset
// decompressed bytes into the stream. If compressed is true, src is wrapped
// in a gzip.Reader before seeking.
func Open(path string, compressed bool, startOffset int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := &Reader{file: f, src: f}
	if compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		r.gz = gz
		r.src = gz
	}

	if startOffset > 0 {
		if err := r.discard(startOffset); err != nil {
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

// Read implements io.Reader, updating Offset as bytes are consumed.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	r.offset += int64(n)
	return n, err
}

// Offset returns the number of decompressed bytes read so far — the next
// byte a resumed reader should start at.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close releases the underlying file (and gzip reader, if any).
func (r *Reader) Close() error {
	var gzErr error
	if r.gz != nil {
		gzErr = r.gz.Close()
	}
	fileErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

func (r *Reader) discard(n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}
