package filequeue

import (
	"io"
)

// Message is one opaque, already-framed payload. The engine never inspects
// its contents; only a Codec knows how to frame or reframe it.
type Message []byte

// Input reads framed messages off a byte stream in order. It is the
// "newInput" half of the codec trait from §4.3/§9: the engine treats it as a
// pure iterator/skipper and never inspects payloads.
//
// Implementations must be self-delimiting: Next must never read past the end
// of one record into the next, so the caller's byte offset bookkeeping
// (PositionedReader) stays record-aligned.
type Input interface {
	// Next returns the next message, or io.EOF if the stream has no more
	// complete records buffered/available.
	Next() (Message, error)

	// Skip advances past the next message without allocating/returning it,
	// used by recovery to count messages cheaply. Returns io.EOF under the
	// same condition as Next.
	Skip() error
}

// Output frames and writes messages to a byte stream, in the "newOutput"
// half of the codec trait.
type Output interface {
	// Write frames one message and appends it to the underlying stream.
	Write(Message) error

	// Flush pushes any buffered bytes to the underlying writer. Close does
	// not imply Flush was called by the codec; callers must call Flush
	// before relying on the underlying writer's contents being complete.
	Flush() error
}

// Codec is the external collaborator that frames/reframes opaque messages
// over a byte stream (§4.3's "dynamic dispatch on codecs" design note: this
// is the minimal trait the engine consumes, never a type hierarchy).
// Concrete implementations (e.g. filequeue/codec/line) are newline-delimited
// or otherwise self-delimited framings.
type Codec interface {
	NewInput(r io.Reader) Input
	NewOutput(w io.Writer) Output
}
