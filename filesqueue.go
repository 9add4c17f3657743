package filequeue

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/filequeue/filequeue/internal/autocommit"
	"github.com/filequeue/filequeue/internal/dirlock"
	"github.com/filequeue/filequeue/internal/entry"
	"github.com/filequeue/filequeue/internal/fsretry"
	"github.com/filequeue/filequeue/internal/posreader"
	"github.com/filequeue/filequeue/internal/qlog"
)

// FilesQueue is the durable, transactional, single-consumer message queue
// engine of spec.md §4.1: it owns recovery, the entry catalog, the
// merge/split policy, the drop policy, fsync discipline, and the
// wait/notify condition backing Receiver.Receive.
type FilesQueue struct {
	name   string
	cfg    FileConfig
	dir    string
	scheme entry.Scheme
	codec  Codec
	namer  *entry.Namer
	retry  fsretry.Policy
	logger qlog.Logger
	lock   *dirlock.Lock

	mu       sync.Mutex
	catalog  *entry.Catalog
	stats    stats
	notifyCh chan struct{}
	senders  map[*fileSender]struct{}
	receiver *fileReceiver
	closed   bool
}

// NewFilesQueue sets up a durable queue per cfg, running recovery before
// returning (spec.md §4.1 "Setup"/"Recovery protocol"). codec must not be
// nil.
func NewFilesQueue(cfg FileConfig, codec Codec) (*FilesQueue, error) {
	if codec == nil {
		return nil, newError(KindConfiguration, "nil codec")
	}
	if cfg.Name == "" {
		return nil, newError(KindConfiguration, "empty queue name")
	}
	if cfg.AutocommitTimeout > 0 && cfg.Scheduler == nil {
		return nil, newError(KindConfiguration, "autocommit.timeout configured without a Scheduler")
	}

	cfg = cfg.withDefaults()

	dir := cfg.Directory
	if cfg.Root != "" {
		dir = filepath.Join(cfg.Root, cfg.Directory)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapError(KindFatal, err, "creating storage directory %s", dir)
	}

	scheme := entry.Scheme{
		Dir:     dir,
		Prefix:  cfg.EntryPrefix,
		Lock:    cfg.LockPrefix,
		Data:    cfg.DataSuffix,
		Trans:   cfg.TransSuffix,
		Next:    cfg.NextSuffix,
		Bad:     cfg.BadSuffix,
		Backup:  cfg.BackupSuffix,
		LockSfx: cfg.LockSuffix,
		Gzip:    cfg.Compressed,
		GzipSfx: cfg.CompressedSuffix,
	}

	q := &FilesQueue{
		name:     cfg.Name,
		cfg:      cfg,
		dir:      dir,
		scheme:   scheme,
		codec:    codec,
		namer:    entry.NewNamer(nil),
		retry:    fsretry.Policy{Retries: cfg.FileRetries, Delay: cfg.FileRetryDelay},
		logger:   qlog.Or(cfg.Logger),
		catalog:  entry.New(),
		notifyCh: make(chan struct{}),
		senders:  make(map[*fileSender]struct{}),
	}

	var previousLength int64
	var havePrevious bool
	if !cfg.LockDisabled {
		lock, err := dirlock.Acquire(scheme.LockPath(cfg.Name))
		if err != nil {
			if errors.Is(err, dirlock.ErrHeld) {
				return nil, wrapError(KindConfiguration, err, "directory lock for queue %s is held by another process", cfg.Name)
			}
			return nil, wrapError(KindFatal, err, "acquiring directory lock for queue %s", cfg.Name)
		}
		q.lock = lock
		previousLength, havePrevious = lock.PreviousLength()
	}

	if err := q.recover(previousLength, havePrevious); err != nil {
		if q.lock != nil {
			_ = q.lock.Release(int64(q.stats.messageCount))
		}
		return nil, err
	}

	return q, nil
}

// recover implements spec.md §4.1's recovery protocol. It runs once, before
// NewFilesQueue returns; running it again on a fresh FilesQueue pointed at
// the same (untouched) directory reproduces the same catalog and counters
// (testable property #7), since each pass only consumes files that exist,
// and leaves the directory in the same steady state it started from.
func (q *FilesQueue) recover(previousLength int64, havePrevious bool) error {
	files, err := os.ReadDir(q.dir)
	if err != nil {
		return wrapError(KindFatal, err, "reading storage directory %s", q.dir)
	}

	// Pass 1: data files become ready catalog entries.
	for _, de := range files {
		if de.IsDir() {
			continue
		}
		name, kind, ok := q.scheme.Parse(de.Name())
		if !ok || kind != entry.Data {
			continue
		}
		size, err := q.entrySize(filepath.Join(q.dir, de.Name()))
		if err != nil {
			continue
		}
		q.catalog.Insert(&entry.Entry{Name: name, Ready: true, Size: size})
		q.stats.fileCount++
		q.namer.Observe(name)
	}

	// Pass 2: next files attach a next-read position, or are orphans.
	for _, de := range files {
		if de.IsDir() {
			continue
		}
		name, kind, ok := q.scheme.Parse(de.Name())
		if !ok || kind != entry.Next {
			continue
		}
		q.namer.Observe(name)
		path := filepath.Join(q.dir, de.Name())

		e := q.catalog.Get(name)
		if e == nil {
			_ = fsretry.Remove(q.retry, path)
			qlog.OrphanNext(q.logger, name)
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			_ = fsretry.Remove(q.retry, path)
			qlog.OrphanNext(q.logger, name)
			continue
		}
		offset, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			_ = fsretry.Remove(q.retry, path)
			qlog.OrphanNext(q.logger, name)
			continue
		}
		e.NextPos = offset
	}

	// Pass 3: trans files are recovered (autocommit) or dropped.
	for _, de := range files {
		if de.IsDir() {
			continue
		}
		name, kind, ok := q.scheme.Parse(de.Name())
		if !ok || kind != entry.Trans {
			continue
		}
		q.namer.Observe(name)
		transPath := filepath.Join(q.dir, de.Name())

		if !q.cfg.Autocommit {
			_ = fsretry.Remove(q.retry, transPath)
			qlog.DroppedTrans(q.logger, name)
			continue
		}

		size, err := q.entrySize(transPath)
		if err != nil {
			continue
		}
		dataPath := q.scheme.Path(name, entry.Data)
		if err := fsretry.Rename(q.retry, transPath, dataPath); err != nil {
			continue
		}
		q.catalog.Insert(&entry.Entry{Name: name, Ready: true, Size: size})
		q.stats.fileCount++
		qlog.RecoveredTrans(q.logger, name)
	}

	// Pass 4: count messages per entry, quarantining unreadable ones.
	for _, name := range q.catalog.Names() {
		e := q.catalog.Get(name)
		if e.NextPos > e.Size {
			q.quarantine(e, newError(KindBadEntry, "next-read position %d exceeds file size %d", e.NextPos, e.Size))
			continue
		}
		count, err := q.countMessages(e)
		if err != nil {
			q.quarantine(e, err)
			continue
		}
		e.Messages = count
		q.stats.messageCount += count
		q.stats.filesTotalSize += e.Size
	}

	if havePrevious && int64(q.stats.messageCount) != previousLength {
		qlog.LockLengthMismatch(q.logger, int(previousLength), q.stats.messageCount)
	}

	return nil
}

// entrySize returns path's logical (decompressed) length — the same unit
// Entry.NextPos and Entry.Size must agree on (spec.md §4.5). When
// compression is off this is just the on-disk file size; when it's on, the
// on-disk size is the *compressed* byte count, so the file is instead read
// through once and the decompressed byte count reported by the reader is
// used. This only runs at recovery, once per entry.
func (q *FilesQueue) entrySize(path string) (int64, error) {
	if !q.cfg.Compressed {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	rd, err := posreader.Open(path, true, 0)
	if err != nil {
		return 0, err
	}
	defer rd.Close()
	if _, err := io.Copy(io.Discard, rd); err != nil {
		return 0, err
	}
	return rd.Offset(), nil
}

func (q *FilesQueue) countMessages(e *entry.Entry) (int, error) {
	path := q.scheme.Path(e.Name, entry.Data)
	rd, err := posreader.Open(path, q.cfg.Compressed, e.NextPos)
	if err != nil {
		return 0, err
	}
	defer rd.Close()

	in := q.codec.NewInput(rd)
	count := 0
	for {
		if err := in.Skip(); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		count++
	}
}

// quarantine reroutes an unreadable entry's data file to .bad and drops it
// from the catalog (spec.md §4.7 "Corrupt entry discovered on recovery").
// Only called from recover, before the queue is visible to other
// goroutines, so it does not take q.mu.
func (q *FilesQueue) quarantine(e *entry.Entry, cause error) {
	dataPath := q.scheme.Path(e.Name, entry.Data)
	badPath := q.scheme.Path(e.Name, entry.Bad)
	_ = fsretry.Remove(q.retry, badPath)
	_ = fsretry.Rename(q.retry, dataPath, badPath)
	_ = fsretry.Remove(q.retry, q.scheme.Path(e.Name, entry.Next))
	q.catalog.Remove(e.Name)
	qlog.BadEntry(q.logger, e.Name, cause)
}

// releaseEntry implements the send commit path of spec.md §4.1: merge into
// the tail entry when policy allows, else promote the transaction to a new
// ready entry.
func (q *FilesQueue) releaseEntry(transName, transPath string, n int, size int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail := q.catalog.Tail()
	if tail != nil && !tail.Busy && q.cfg.MergeLimit > 0 && n <= q.cfg.MergeLimit && tail.Messages <= q.cfg.MergeSplit {
		// size must be measured before the merge, and in the same logical
		// (decompressed) unit as Entry.Size elsewhere: appendFile's return
		// value is the raw on-disk byte count copied, which only matches
		// size when compression is off (spec.md §4.5).
		added, err := q.entrySize(transPath)
		if err != nil {
			return wrapError(KindFatal, err, "sizing transaction %s before merge", transName)
		}
		dataPath := q.scheme.Path(tail.Name, entry.Data)
		if _, err := appendFile(dataPath, transPath); err != nil {
			return wrapError(KindFatal, err, "merging transaction into entry %s", tail.Name)
		}
		if err := fsretry.Remove(q.retry, transPath); err != nil {
			return wrapError(KindFatal, err, "removing merged transaction file %s", transPath)
		}
		tail.Messages += n
		tail.Size += added
		q.stats.filesTotalSize += added
		q.stats.messageCount += n
	} else {
		dataPath := q.scheme.Path(transName, entry.Data)
		if err := fsretry.Rename(q.retry, transPath, dataPath); err != nil {
			return wrapError(KindFatal, err, "promoting transaction %s", transName)
		}
		q.catalog.Insert(&entry.Entry{Name: transName, Messages: n, Size: size, Ready: true})
		q.stats.fileCount++
		q.stats.filesTotalSize += size
		q.stats.messageCount += n
	}

	q.stats.lastSenderCommit = time.Now()
	q.notifyAllLocked()
	return nil
}

// dropEntries implements the receive commit path of spec.md §4.1.
func (q *FilesQueue) dropEntries(names []string, partial *entry.Entry, partialOffset int64, partialConsumed int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	totalConsumed := 0
	for _, name := range names {
		e := q.catalog.Get(name)
		if e == nil {
			continue
		}
		dataPath := q.scheme.Path(name, entry.Data)
		if q.cfg.Backup {
			backupPath := q.scheme.Path(name, entry.Backup)
			_ = fsretry.Remove(q.retry, backupPath)
			if err := fsretry.Rename(q.retry, dataPath, backupPath); err != nil {
				return wrapError(KindFatal, err, "backing up entry %s", name)
			}
		} else if err := fsretry.Remove(q.retry, dataPath); err != nil {
			return wrapError(KindFatal, err, "removing entry %s", name)
		}
		_ = fsretry.Remove(q.retry, q.scheme.Path(name, entry.Next))

		q.catalog.Remove(name)
		q.stats.fileCount--
		q.stats.filesTotalSize -= e.Size
		q.stats.messagesDropped += int64(e.Messages)
		totalConsumed += e.Messages
	}

	if partial != nil {
		nextPath := q.scheme.Path(partial.Name, entry.Next)
		if err := fsretry.WriteAtomic(q.retry, nextPath, []byte(strconv.FormatInt(partialOffset, 10)), 0o644); err != nil {
			return wrapError(KindFatal, err, "writing next file for entry %s", partial.Name)
		}
		partial.NextPos = partialOffset
		partial.Messages -= partialConsumed
		totalConsumed += partialConsumed
	}

	q.stats.messageCount -= totalConsumed
	q.stats.lastReceiverCommit = time.Now()
	return nil
}

// acquireNextEntry returns the next ready entry after previous, marking it
// busy, or (nil, notifyChannel) if none is currently available.
func (q *FilesQueue) acquireNextEntry(previous string) (*entry.Entry, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e := q.catalog.Next(previous); e != nil {
		e.Busy = true
		return e, nil
	}
	return nil, q.notifyCh
}

func (q *FilesQueue) releaseBusy(e *entry.Entry) {
	q.mu.Lock()
	e.Busy = false
	q.mu.Unlock()
}

// notifyAllLocked wakes every receiver waiting in acquireNextEntry. Must be
// called with q.mu held.
func (q *FilesQueue) notifyAllLocked() {
	close(q.notifyCh)
	q.notifyCh = make(chan struct{})
}

// purge implements spec.md §4.1 Purge: delete every non-busy ready entry's
// files, empty the catalog, and return the previous message count.
func (q *FilesQueue) purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	previous := q.stats.messageCount
	for _, name := range q.catalog.Names() {
		e := q.catalog.Get(name)
		if e.Busy {
			continue
		}
		_ = fsretry.Remove(q.retry, q.scheme.Path(name, entry.Data))
		_ = fsretry.Remove(q.retry, q.scheme.Path(name, entry.Next))
		q.catalog.Remove(name)
	}
	q.stats.messageCount = 0
	q.stats.filesTotalSize = 0
	q.stats.fileCount = q.catalog.Len()
	return previous
}

// NewSender implements Queue.
func (q *FilesQueue) NewSender() (Sender, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosedSession
	}
	s := &fileSender{
		q:      q,
		policy: autocommit.Policy{Threshold: q.cfg.AutocommitThreshold, Timeout: q.cfg.AutocommitTimeout},
	}
	s.timer = autocommit.NewTimer(s.policy.Timeout, q.cfg.Scheduler, s.autoCommitTick)
	q.senders[s] = struct{}{}
	q.stats.senderCount++
	q.mu.Unlock()
	return s, nil
}

func (q *FilesQueue) unregisterSender(s *fileSender) {
	q.mu.Lock()
	if _, ok := q.senders[s]; ok {
		delete(q.senders, s)
		q.stats.senderCount--
	}
	q.mu.Unlock()
}

// NewReceiver implements Queue. Creating a new receiver while one is
// already active drops the prior one (spec.md §4.7).
func (q *FilesQueue) NewReceiver() (Receiver, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosedSession
	}
	prior := q.receiver
	r := &fileReceiver{q: q}
	q.receiver = r
	q.stats.receiverConnectAt = time.Now()
	q.mu.Unlock()

	if prior != nil {
		_ = prior.Close()
	}
	return r, nil
}

func (q *FilesQueue) unregisterReceiver(r *fileReceiver) {
	q.mu.Lock()
	if q.receiver == r {
		q.receiver = nil
	}
	q.mu.Unlock()
}

// Info implements Queue.
func (q *FilesQueue) Info() QueueInfo {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats.snapshot()
}

// Close implements Queue: closes every live session, then persists the
// final message count to the directory lock file and releases it
// (invariant 6).
func (q *FilesQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	senders := make([]*fileSender, 0, len(q.senders))
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

	if q.lock != nil {
		q.mu.Lock()
		length := q.stats.messageCount
		q.mu.Unlock()
		if err := q.lock.Release(int64(length)); err != nil {
			return wrapError(KindFatal, err, "releasing directory lock for queue %s", q.name)
		}
	}
	return nil
}

func appendFile(dstPath, srcPath string) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, err
	}
	return n, dst.Sync()
}
