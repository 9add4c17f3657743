package filequeue

import "time"

// Queue is the capability set both FilesQueue and MemoryQueue implement
// (spec.md §9's "small Queue capability set", deliberately not a shared
// abstract base type): newSender, newReceiver, info, and teardown.
type Queue interface {
	// NewSender returns a transactional writer session.
	NewSender() (Sender, error)

	// NewReceiver returns the single active consumer session. Creating a
	// second receiver drops the first (spec.md §4.7 "Second receiver
	// attempt").
	NewReceiver() (Receiver, error)

	// Info returns a point-in-time snapshot of the queue's counters.
	Info() QueueInfo

	// Close tears the queue down: closes any live sender/receiver sessions
	// and, for a FilesQueue, releases the directory lock after persisting
	// the current message count.
	Close() error
}

// Sender is a per-session transactional writer (spec.md §4.2).
type Sender interface {
	// Send appends messages to the session's open transaction, opening one
	// on demand. If commit is true, Send finishes by committing.
	Send(messages []Message, commit bool) error

	// Commit closes the transaction's stream and hands it to the engine,
	// either merging it into the tail entry or promoting it to a new one.
	Commit() error

	// Rollback discards the open transaction without making its messages
	// visible to any receiver.
	Rollback() error

	// Close commits if the session was configured for autocommit, else
	// rolls back, and unregisters the session from the queue.
	Close() error
}

// Receiver is the single active consumer session (spec.md §4.3).
type Receiver interface {
	// Receive returns up to limit messages, blocking up to timeout for the
	// first message only. A negative timeout waits indefinitely; zero
	// never blocks. An empty, nil-error result means timeout with nothing
	// available.
	Receive(limit int, timeout time.Duration) ([]Message, error)

	// Commit drops every fully-consumed entry and persists the partially
	// consumed head's next-read position, if any.
	Commit() error

	// Rollback clears the in-progress receive transaction: held entries
	// become available again from their last-committed position. No data
	// is destroyed.
	Rollback() error

	// Purge rolls back, then discards every ready entry, returning the
	// number of messages discarded.
	Purge() (int, error)

	// Close rolls back, then releases the single-consumer slot.
	Close() error
}
