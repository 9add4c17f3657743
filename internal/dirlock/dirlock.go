// Package dirlock implements the DirectoryLock component of spec.md §3/§4.1:
// advisory, single-process exclusion over a queue's storage directory, via a
// well-known lock file that also persists the queue's message count across
// a clean shutdown (invariant 6).
package dirlock

import (
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
)

// ErrHeld is returned by Acquire when another process already holds the
// lock.
var ErrHeld = &lockError{"directory lock already held"}

type lockError struct{ msg string }

func (e *lockError) Error() string { return e.msg }

// Lock is an acquired advisory lock on a single queue's storage directory.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Acquire creates (if absent) and exclusively locks the lock file at path.
// It never blocks: if the lock is already held, it returns ErrHeld
// immediately, matching spec.md §4.7 ("Lock already held" -> setup fails).
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{fl: fl, path: path}, nil
}

// PreviousLength reads the decimal message count written by the prior clean
// shutdown, if any. ok is false if the file is empty, missing, or
// unparsable (a crash mid-write, or a first-ever run).
func (l *Lock) PreviousLength() (n int64, ok bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Release persists length as the lock file's new content, then releases the
// advisory lock. The write is atomic (rename-into-place via renameio), so a
// crash mid-write never leaves a torn length for the next PreviousLength to
// misread.
func (l *Lock) Release(length int64) error {
	writeErr := renameio.WriteFile(l.path, []byte(strconv.FormatInt(length, 10)), 0o644)
	unlockErr := l.fl.Unlock()
	if writeErr != nil {
		return writeErr
	}
	return unlockErr
}
