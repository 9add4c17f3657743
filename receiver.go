package filequeue

import (
	"sync"
	"time"

	"github.com/filequeue/filequeue/internal/entry"
	"github.com/filequeue/filequeue/internal/posreader"
)

// fileReceiver is the single-consumer Receiver implementation backing
// FilesQueue (spec.md §4.3). It reads entries in catalog order, holding the
// entry it is actively reading busy (invariant 3) and deferring every
// filesystem mutation — dropping fully-consumed entries, persisting the
// partially-consumed head's next-read position — until Commit.
type fileReceiver struct {
	mu sync.Mutex
	q  *FilesQueue

	curEntry    *entry.Entry
	curReader   *posreader.Reader
	curInput    Input
	curConsumed int

	// completed holds entries read to EOF during the in-progress
	// transaction, awaiting Commit to actually drop their files. Rollback
	// discards this list without touching the filesystem: nothing was ever
	// mutated on disk for them.
	completed []*entry.Entry

	// txPrevious is the catalog cursor within the in-progress transaction,
	// used only to skip past entries already drained in this same
	// transaction (they're still in the catalog, un-dropped, until Commit).
	// It always resets to "" on Commit (those entries are gone from the
	// catalog by then) and on Rollback (nothing advanced for real).
	txPrevious string

	closed bool
}

// Receive implements Receiver.
func (r *fileReceiver) Receive(limit int, timeout time.Duration) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosedSession
	}
	if limit <= 0 {
		return nil, nil
	}

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	out := make([]Message, 0, limit)

	for len(out) < limit {
		if r.curEntry == nil {
			e, waitCh := r.q.acquireNextEntry(r.txPrevious)
			if e == nil {
				if len(out) > 0 || timeout == 0 {
					return out, nil
				}
				if hasDeadline {
					remaining := time.Until(deadline)
					if remaining <= 0 {
						return out, nil
					}
					select {
					case <-waitCh:
					case <-time.After(remaining):
						return out, nil
					}
				} else {
					<-waitCh
				}
				continue
			}
			if err := r.openCurrent(e); err != nil {
				r.q.releaseBusy(e)
				return out, err
			}
		}

		msg, err := r.curInput.Next()
		if err != nil {
			// spec.md §4.7 "Codec exception in receiver": any error here,
			// io.EOF or otherwise, ends this entry for this attempt.
			// finishCurrent moves it to the completed list as fully
			// consumed, so later Receive calls in this transaction go on to
			// the next entry and Commit drops it, including any records
			// after the one that failed. Only Rollback makes it readable
			// again, from its last committed position.
			r.finishCurrent()
			continue
		}

		out = append(out, msg)
		r.curConsumed++
	}

	return out, nil
}

func (r *fileReceiver) openCurrent(e *entry.Entry) error {
	rd, err := posreader.Open(r.q.scheme.Path(e.Name, entry.Data), r.q.cfg.Compressed, e.NextPos)
	if err != nil {
		return wrapError(KindFatal, err, "opening entry %s", e.Name)
	}
	r.curEntry = e
	r.curReader = rd
	r.curInput = r.q.codec.NewInput(rd)
	r.curConsumed = 0
	return nil
}

// finishCurrent is called on EOF: the entry has yielded every message it
// currently has, so it's no longer busy (a concurrent sender may merge into
// it if it's the tail) and moves to the completed list pending Commit.
func (r *fileReceiver) finishCurrent() {
	_ = r.curReader.Close()
	r.q.releaseBusy(r.curEntry)
	// Clone before releasing: once not busy, a concurrent sender may merge
	// into this entry if it's the tail, mutating the catalog's live object.
	// completed must keep the snapshot as of the moment this entry finished
	// reading, not whatever it grows into before Commit.
	r.completed = append(r.completed, r.curEntry.Clone())
	r.txPrevious = r.curEntry.Name
	r.curEntry = nil
	r.curReader = nil
	r.curInput = nil
	r.curConsumed = 0
}

// Commit implements Receiver.
func (r *fileReceiver) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosedSession
	}

	names := make([]string, len(r.completed))
	for i, e := range r.completed {
		names[i] = e.Name
	}

	var partial *entry.Entry
	var partialOffset int64
	var partialConsumed int
	if r.curEntry != nil && r.curConsumed > 0 {
		partial = r.curEntry
		partialOffset = r.curReader.Offset()
		partialConsumed = r.curConsumed
	}

	if err := r.q.dropEntries(names, partial, partialOffset, partialConsumed); err != nil {
		return err
	}

	if partial != nil {
		r.curConsumed = 0
	}
	r.completed = r.completed[:0]
	r.txPrevious = ""
	return nil
}

// Rollback implements Receiver.
func (r *fileReceiver) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosedSession
	}
	r.rollbackLocked()
	return nil
}

// rollbackLocked clears the in-progress transaction. No file is touched:
// the completed entries' data was never dropped, and the partially-read
// head's next file was never rewritten, so every held entry simply becomes
// available again from its last-committed position.
func (r *fileReceiver) rollbackLocked() {
	if r.curReader != nil {
		_ = r.curReader.Close()
	}
	if r.curEntry != nil {
		r.q.releaseBusy(r.curEntry)
	}
	r.curEntry = nil
	r.curReader = nil
	r.curInput = nil
	r.curConsumed = 0
	r.completed = r.completed[:0]
	r.txPrevious = ""
}

// Purge implements Receiver: roll back first (so nothing this session was
// mid-reading is left busy), then discard every ready entry.
func (r *fileReceiver) Purge() (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosedSession
	}
	r.rollbackLocked()
	r.mu.Unlock()
	return r.q.purge(), nil
}

// Close implements Receiver: roll back, then release the single-consumer
// slot.
func (r *fileReceiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.rollbackLocked()
	r.mu.Unlock()

	r.q.unregisterReceiver(r)
	return nil
}
