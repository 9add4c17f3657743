package filequeue

import (
	"sync"

	"github.com/filequeue/filequeue/internal/autocommit"
	"github.com/filequeue/filequeue/internal/entry"
	"github.com/filequeue/filequeue/internal/fsretry"
	"github.com/filequeue/filequeue/internal/posreader"
)

// fileSender is the Sender implementation backing FilesQueue (spec.md
// §4.2). Each session owns at most one open transaction file at a time,
// named up front from the engine's monotonic namer so the name survives
// into the catalog unchanged if the transaction is promoted rather than
// merged.
//
// mu guards the session's own state against the scheduler goroutine that
// drives autocommit.timeout, which calls autoCommitTick concurrently with
// whatever goroutine owns the session's Send/Commit/Rollback/Close calls.
type fileSender struct {
	mu sync.Mutex
	q  *FilesQueue

	transName string
	transPath string
	writer    *posreader.Writer
	output    Output
	pending   int

	policy autocommit.Policy
	timer  *autocommit.Timer

	closed bool
}

// Send implements Sender.
func (s *fileSender) Send(messages []Message, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosedSession
	}

	if err := s.ensureOpen(); err != nil {
		return err
	}

	for _, m := range messages {
		if err := s.output.Write(m); err != nil {
			return wrapError(KindFatal, err, "writing message to transaction %s", s.transName)
		}
		s.pending++
	}

	if err := s.output.Flush(); err != nil {
		return wrapError(KindFatal, err, "flushing transaction %s", s.transName)
	}
	if err := s.writer.Sync(); err != nil {
		return wrapError(KindFatal, err, "syncing transaction %s", s.transName)
	}

	s.timer.Activity()

	if commit || s.policy.ThresholdReached(s.pending) {
		return s.commitLocked()
	}
	return nil
}

// Commit implements Sender.
func (s *fileSender) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedSession
	}
	return s.commitLocked()
}

// Rollback implements Sender.
func (s *fileSender) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedSession
	}
	return s.rollbackLocked()
}

// Close implements Sender: autocommit-enabled queues commit any pending
// transaction, others roll it back, then the session unregisters itself.
func (s *fileSender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.q.cfg.Autocommit {
		err = s.commitLocked()
	} else {
		err = s.rollbackLocked()
	}
	s.mu.Unlock()

	s.timer.Stop()
	s.q.unregisterSender(s)
	return err
}

func (s *fileSender) ensureOpen() error {
	if s.writer != nil {
		return nil
	}
	s.transName = s.q.namer.Next()
	s.transPath = s.q.scheme.Path(s.transName, entry.Trans)
	w, err := posreader.Create(s.transPath, s.q.cfg.Compressed)
	if err != nil {
		return wrapError(KindFatal, err, "opening transaction file for %s", s.transName)
	}
	s.writer = w
	s.output = s.q.codec.NewOutput(w)
	return nil
}

func (s *fileSender) commitLocked() error {
	if s.writer == nil {
		return nil
	}

	if err := s.output.Flush(); err != nil {
		return wrapError(KindFatal, err, "flushing transaction %s", s.transName)
	}
	if err := s.writer.Sync(); err != nil {
		return wrapError(KindFatal, err, "syncing transaction %s", s.transName)
	}

	size := s.writer.Size()
	n := s.pending
	name := s.transName
	path := s.transPath

	if err := s.writer.Close(); err != nil {
		return wrapError(KindFatal, err, "closing transaction %s", name)
	}

	if n == 0 {
		// Nothing was ever written; drop the empty trans file rather than
		// handing the engine a zero-message entry.
		_ = fsretry.Remove(s.q.retry, path)
		s.resetTx()
		return nil
	}

	if err := s.q.releaseEntry(name, path, n, size); err != nil {
		return err
	}
	s.resetTx()
	return nil
}

func (s *fileSender) rollbackLocked() error {
	if s.writer == nil {
		return nil
	}
	path := s.transPath
	_ = s.writer.Close()
	_ = fsretry.Remove(s.q.retry, path)
	s.resetTx()
	return nil
}

func (s *fileSender) resetTx() {
	s.writer = nil
	s.output = nil
	s.pending = 0
	s.transName = ""
	s.transPath = ""
}

// autoCommitTick is invoked by the configured Scheduler's own goroutine.
func (s *fileSender) autoCommitTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.commitLocked()
}
