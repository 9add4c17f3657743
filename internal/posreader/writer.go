package posreader

import (
	"os"

	"github.com/klauspost/compress/gzip"
)

// Writer wraps a transaction's data/trans file for appending, optionally
// gzip-compressing the stream. It tracks the number of logical
// (pre-compression) bytes written — the same unit Reader.Offset reports —
// since a compressed entry can only ever be resumed by discarding that many
// decompressed bytes from a freshly reopened stream; tracking on-disk
// (compressed) bytes here would leave the entry's size and its receiver's
// next-read position in different units.
type Writer struct {
	file *os.File
	gz   *gzip.Writer
	dst  interface {
		Write([]byte) (int, error)
	}
	size int64
}

// Create opens path for appending (creating it if absent), wrapping it in a
// gzip.Writer if compressed is true.
func Create(path string, compressed bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &Writer{file: f, dst: f}
	if compressed {
		gz := gzip.NewWriter(f)
		w.gz = gz
		w.dst = gz
	}

	return w, nil
}

// Write appends p to the stream.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	w.size += int64(n)
	return n, err
}

// Size returns the number of logical (decompressed) bytes written so far —
// the same unit Entry.Size and Reader.Offset use, whether or not
// compression is enabled.
func (w *Writer) Size() int64 {
	return w.size
}

// Close flushes and closes the gzip writer (if any) and the underlying
// file.
func (w *Writer) Close() error {
	var gzErr error
	if w.gz != nil {
		gzErr = w.gz.Close()
	}
	fileErr := w.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

// Sync commits the file's contents to stable storage (fsync discipline,
// spec.md §4.1).
func (w *Writer) Sync() error {
	return w.file.Sync()
}
