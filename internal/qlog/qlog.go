// Package qlog wires the teacher's own structured logging facade,
// github.com/joeycumines/logiface, through its stumpy backend, into the
// engine's ambient logging. This carries recovery and lifecycle events
// (§4.1 recovery protocol, §7 error handling) as structured fields rather
// than formatted strings.
package qlog

import (
	"io"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used throughout the engine.
type Logger = *logiface.Logger[*stumpy.Event]

// New builds a Logger writing JSON lines to w. A nil w defaults to
// os.Stderr.
func New(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return stumpy.L.New(stumpy.WithStumpy(stumpy.WithWriter(w)))
}

// Disabled returns a Logger that drops every event, for callers that pass a
// nil *logiface.Logger as their queue's logger.
func Disabled() Logger {
	return stumpy.L.New(stumpy.L.WithLevel(logiface.LevelDisabled))
}

// Or returns l if non-nil, else Disabled(). Every engine constructor routes
// its logger argument through this, so internal call sites never need a nil
// check.
func Or(l Logger) Logger {
	if l == nil {
		return Disabled()
	}
	return l
}

// RecoveredTrans logs that a trans file was promoted to data during
// recovery (autocommit enabled).
func RecoveredTrans(l Logger, name string) {
	l.Info().Str("entry", name).Log("recovered in-progress transaction on restart")
}

// DroppedTrans logs that a trans file was discarded during recovery
// (autocommit disabled).
func DroppedTrans(l Logger, name string) {
	l.Info().Str("entry", name).Log("dropped uncommitted transaction on restart")
}

// OrphanNext logs that a next file with no matching data file was deleted.
func OrphanNext(l Logger, name string) {
	l.Warning().Str("entry", name).Log("deleted orphan next file with no matching data file")
}

// BadEntry logs that recovery quarantined a data file.
func BadEntry(l Logger, name string, err error) {
	l.Warning().Str("entry", name).Err(err).Log("quarantined unreadable entry")
}

// LockLengthMismatch logs that the lock file's persisted length disagreed
// with the recovered message count.
func LockLengthMismatch(l Logger, previous, recovered int) {
	l.Warning().Int("previous", previous).Int("recovered", recovered).
		Log("recovered message count differs from last clean shutdown")
}

// KeepLimitDropped logs that a MemoryQueue evicted its oldest message
// because keep_limit was exceeded with no receiver attached.
func KeepLimitDropped(l Logger, limit int) {
	l.Warning().Int("keep_limit", limit).Log("dropped oldest message: keep limit exceeded with no receiver attached")
}

// BufferEmptied logs that a MemoryQueue drained back to empty after
// previously evicting messages under keep_limit.
func BufferEmptied(l Logger) {
	l.Info().Log("buffer emptied")
}
