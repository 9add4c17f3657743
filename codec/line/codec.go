// Package line implements the default filequeue.Codec: messages are framed
// one per line, base64-encoded so arbitrary binary payloads (including
// embedded newlines) round-trip safely. This is the concrete instance of the
// "newline-delimited XML fragments or comparable self-delimited records"
// framing spec.md §6.1 names as an example; it makes no assumption about the
// payload being XML, only that it fits on one line once encoded.
package line

import (
	"bufio"
	"encoding/base64"
	"errors"
	"io"

	"github.com/filequeue/filequeue"
)

// Codec is the default filequeue.Codec implementation.
type Codec struct{}

// New returns the default newline-delimited codec.
func New() Codec { return Codec{} }

// NewInput implements filequeue.Codec.
func (Codec) NewInput(r io.Reader) filequeue.Input {
	return &input{r: r}
}

// NewOutput implements filequeue.Codec.
func (Codec) NewOutput(w io.Writer) filequeue.Output {
	return output{w: bufio.NewWriter(w)}
}

// input reads one line at a time directly off r, issuing single-byte Read
// calls rather than buffering through bufio.Scanner/bufio.Reader. r wraps a
// posreader.Reader that advances its reported offset by however many bytes
// the underlying Read call physically returns; a buffered reader would pull
// an entry's entire remaining file into its own lookahead buffer on the
// first Read (a single on-disk read commonly returns everything left in a
// small file), so the offset persisted as the receiver's next-read position
// would land at end-of-file instead of just past the message actually
// delivered. Reading one byte at a time keeps the offset exactly aligned
// with the messages this Input has actually handed back.
type input struct {
	r   io.Reader
	buf [1]byte
}

func (in *input) readByte() (byte, error) {
	n, err := in.r.Read(in.buf[:])
	if n == 1 {
		return in.buf[0], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

func (in *input) readLine() ([]byte, error) {
	var line []byte
	for {
		b, err := in.readByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return line, nil
			}
			return nil, err
		}
		if b == '\n' {
			return line, nil
		}
		line = append(line, b)
	}
}

func (in *input) Next() (filequeue.Message, error) {
	line, err := in.readLine()
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return filequeue.Message{}, nil
	}
	decoded, err := base64.RawStdEncoding.DecodeString(string(line))
	if err != nil {
		return nil, errors.New("line: malformed record: " + err.Error())
	}
	return filequeue.Message(decoded), nil
}

// Skip decodes and discards the next record, so a malformed record fails
// here exactly as it would in Next.
func (in *input) Skip() error {
	_, err := in.Next()
	return err
}

type output struct {
	w *bufio.Writer
}

func (out output) Write(msg filequeue.Message) error {
	encoded := base64.RawStdEncoding.EncodeToString(msg)
	if _, err := out.w.WriteString(encoded); err != nil {
		return err
	}
	return out.w.WriteByte('\n')
}

func (out output) Flush() error {
	return out.w.Flush()
}
