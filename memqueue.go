package filequeue

import (
	"sync"
	"time"

	"github.com/filequeue/filequeue/internal/autocommit"
	"github.com/filequeue/filequeue/internal/qlog"
)

// MemoryQueue is the non-durable sibling of FilesQueue (spec.md §4.6): same
// external contract, an in-memory FIFO instead of a storage directory, no
// recovery, no catalog of entries — just keep.limit eviction and the
// receiver.required option.
type MemoryQueue struct {
	cfg    MemoryConfig
	logger qlog.Logger

	mu       sync.Mutex
	buf      []Message
	stats    stats
	notifyCh chan struct{}
	senders  map[*memSender]struct{}
	receiver *memReceiver
	dropped  bool // keep_limit has evicted since the buffer was last empty
	closed   bool
}

// NewMemoryQueue builds a MemoryQueue per cfg.
func NewMemoryQueue(cfg MemoryConfig) (*MemoryQueue, error) {
	if cfg.AutocommitTimeout > 0 && cfg.Scheduler == nil {
		return nil, newError(KindConfiguration, "autocommit.timeout configured without a Scheduler")
	}
	return &MemoryQueue{
		cfg:      cfg,
		logger:   qlog.Or(cfg.Logger),
		notifyCh: make(chan struct{}),
		senders:  make(map[*memSender]struct{}),
	}, nil
}

// NewSender implements Queue.
func (q *MemoryQueue) NewSender() (Sender, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosedSession
	}
	s := &memSender{
		q:      q,
		policy: autocommit.Policy{Threshold: q.cfg.AutocommitThreshold, Timeout: q.cfg.AutocommitTimeout},
	}
	s.timer = autocommit.NewTimer(s.policy.Timeout, q.cfg.Scheduler, s.autoCommitTick)
	q.senders[s] = struct{}{}
	q.stats.senderCount++
	q.mu.Unlock()
	return s, nil
}

func (q *MemoryQueue) unregisterSender(s *memSender) {
	q.mu.Lock()
	if _, ok := q.senders[s]; ok {
		delete(q.senders, s)
		q.stats.senderCount--
	}
	q.mu.Unlock()
}

// NewReceiver implements Queue. A second receiver drops the first, same as
// FilesQueue (spec.md §4.7).
func (q *MemoryQueue) NewReceiver() (Receiver, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosedSession
	}
	prior := q.receiver
	r := &memReceiver{q: q}
	q.receiver = r
	q.stats.receiverConnectAt = time.Now()
	q.mu.Unlock()

	if prior != nil {
		_ = prior.Close()
	}
	return r, nil
}

func (q *MemoryQueue) unregisterReceiver(r *memReceiver) {
	q.mu.Lock()
	if q.receiver == r {
		q.receiver = nil
	}
	q.mu.Unlock()
}

// Info implements Queue.
func (q *MemoryQueue) Info() QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.snapshot()
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	senders := make([]*memSender, 0, len(q.senders))
	for s := range q.senders {
		senders = append(senders, s)
	}
	recv := q.receiver
	q.mu.Unlock()

	for _, s := range senders {
		_ = s.Close()
	}
	if recv != nil {
		_ = recv.Close()
	}
	return nil
}

// enqueue appends msgs to the live buffer, honoring receiver.required and
// keep.limit, and wakes any receiver waiting in drain.
func (q *MemoryQueue) enqueue(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if q.cfg.ReceiverRequired && q.receiver == nil {
		return
	}

	q.buf = append(q.buf, msgs...)
	if q.cfg.KeepLimit > 0 && q.receiver == nil {
		for len(q.buf) > q.cfg.KeepLimit {
			q.buf = q.buf[1:]
			if !q.dropped {
				q.dropped = true
				qlog.KeepLimitDropped(q.logger, q.cfg.KeepLimit)
			}
		}
	}
	q.stats.messageCount = len(q.buf)
	q.stats.lastSenderCommit = time.Now()
	q.notifyAllLocked()
}

// drain removes up to limit messages from the head of the live buffer. If
// none are available, it returns the current notify channel so the caller
// can wait without missing a concurrent enqueue.
func (q *MemoryQueue) drain(limit int) ([]Message, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil, q.notifyCh
	}
	n := limit
	if n > len(q.buf) {
		n = len(q.buf)
	}
	msgs := make([]Message, n)
	copy(msgs, q.buf[:n])
	q.buf = q.buf[n:]
	q.stats.messageCount = len(q.buf)
	return msgs, nil
}

// requeueHead re-inserts msgs at the head of the live buffer, ahead of
// anything sent while they were held (spec.md Open Question resolution:
// rollback preserves FIFO against concurrent sends during the receive
// transaction, rather than restoring a frozen original position).
func (q *MemoryQueue) requeueHead(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	head := make([]Message, len(msgs), len(msgs)+len(q.buf))
	copy(head, msgs)
	q.buf = append(head, q.buf...)
	q.stats.messageCount = len(q.buf)
	q.notifyAllLocked()
}

// commitDrop permanently accounts for n committed (no-longer-held)
// messages.
func (q *MemoryQueue) commitDrop(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.messagesDropped += int64(n)
	q.stats.lastReceiverCommit = time.Now()
	q.checkEmptiedLocked()
}

// purgeAll discards the entire live buffer, returning its previous length.
func (q *MemoryQueue) purgeAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.buf)
	q.buf = nil
	q.stats.messageCount = 0
	q.checkEmptiedLocked()
	return n
}

func (q *MemoryQueue) checkEmptiedLocked() {
	if len(q.buf) == 0 && q.dropped {
		q.dropped = false
		qlog.BufferEmptied(q.logger)
	}
}

func (q *MemoryQueue) notifyAllLocked() {
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// memSender is the Sender implementation backing MemoryQueue, sharing the
// threshold/timeout autocommit policy with fileSender.
type memSender struct {
	mu      sync.Mutex
	q       *MemoryQueue
	pending []Message
	policy  autocommit.Policy
	timer   *autocommit.Timer
	closed  bool
}

// Send implements Sender.
func (s *memSender) Send(messages []Message, commit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedSession
	}
	s.pending = append(s.pending, messages...)
	s.timer.Activity()
	if commit || s.policy.ThresholdReached(len(s.pending)) {
		return s.commitLocked()
	}
	return nil
}

// Commit implements Sender.
func (s *memSender) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedSession
	}
	return s.commitLocked()
}

// Rollback implements Sender.
func (s *memSender) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosedSession
	}
	s.pending = nil
	return nil
}

// Close implements Sender.
func (s *memSender) Close() error {
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
		s.pending = nil
	}
	s.mu.Unlock()

	s.timer.Stop()
	s.q.unregisterSender(s)
	return err
}

func (s *memSender) commitLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	msgs := s.pending
	s.pending = nil
	s.q.enqueue(msgs)
	return nil
}

func (s *memSender) autoCommitTick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.commitLocked()
}

// memReceiver is the Receiver implementation backing MemoryQueue.
type memReceiver struct {
	mu     sync.Mutex
	q      *MemoryQueue
	held   []Message
	closed bool
}

// Receive implements Receiver.
func (r *memReceiver) Receive(limit int, timeout time.Duration) ([]Message, error) {
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

	for {
		msgs, waitCh := r.q.drain(limit)
		if len(msgs) > 0 || timeout == 0 {
			r.held = append(r.held, msgs...)
			return msgs, nil
		}
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			select {
			case <-waitCh:
			case <-time.After(remaining):
				return nil, nil
			}
		} else {
			<-waitCh
		}
	}
}

// Commit implements Receiver: held messages are permanently gone.
func (r *memReceiver) Commit() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosedSession
	}
	r.q.commitDrop(len(r.held))
	r.held = r.held[:0]
	return nil
}

// Rollback implements Receiver: held messages return to the head of the
// live queue, in original order.
func (r *memReceiver) Rollback() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosedSession
	}
	held := r.held
	r.held = nil
	r.mu.Unlock()

	r.q.requeueHead(held)
	return nil
}

// Purge implements Receiver: roll back, then discard everything.
func (r *memReceiver) Purge() (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosedSession
	}
	held := r.held
	r.held = nil
	r.mu.Unlock()

	r.q.requeueHead(held)
	return r.q.purgeAll(), nil
}

// Close implements Receiver: rolls back, releases the single-consumer
// slot, and — when receiver.required is set — purges the queue, since
// messages only ever accumulated because this receiver was attached.
func (r *memReceiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	held := r.held
	r.held = nil
	r.mu.Unlock()

	r.q.requeueHead(held)
	r.q.unregisterReceiver(r)

	if r.q.cfg.ReceiverRequired {
		r.q.purgeAll()
	}
	return nil
}
