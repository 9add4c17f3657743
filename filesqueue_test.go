package filequeue_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filequeue/filequeue"
	"github.com/filequeue/filequeue/codec/line"
)

func newFileQueue(t *testing.T, mutate func(*filequeue.FileConfig)) (*filequeue.FilesQueue, string) {
	t.Helper()
	root := t.TempDir()
	cfg := filequeue.FileConfig{
		Name:      "orders",
		Root:      root,
		Directory: "orders",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, filepath.Join(root, cfg.Directory)
}

func msgs(ss ...string) []filequeue.Message {
	out := make([]filequeue.Message, len(ss))
	for i, s := range ss {
		out[i] = filequeue.Message(s)
	}
	return out
}

func strs(ms []filequeue.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = string(m)
	}
	return out
}

// Scenario 1: simple send/receive.
func TestFilesQueue_SimpleSendReceive(t *testing.T) {
	q, dir := newFileQueue(t, nil)

	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("m1", "m2", "m3"), true))
	require.NoError(t, sender.Close())

	receiver, err := q.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, strs(got))

	require.NoError(t, receiver.Commit())

	info := q.Info()
	assert.Equal(t, 0, info.MessageCount)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".data")
	}
}

// Scenario 2: crash before commit.
func TestFilesQueue_CrashBeforeCommit(t *testing.T) {
	root := t.TempDir()
	cfg := filequeue.FileConfig{Name: "orders", Root: root, Directory: "orders", LockDisabled: true}
	storageDir := filepath.Join(root, cfg.Directory)

	q1, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	sender, err := q1.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("x", "y"), false))
	// no commit, no close: simulate a crash by abandoning the queue entirely.

	q2, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	defer q2.Close()

	assert.Equal(t, 0, q2.Info().MessageCount)

	entries, err := os.ReadDir(storageDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".trans")
	}
}

// Scenario 3: crash after commit.
func TestFilesQueue_CrashAfterCommit(t *testing.T) {
	root := t.TempDir()
	cfg := filequeue.FileConfig{Name: "orders", Root: root, Directory: "orders", LockDisabled: true}

	q1, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	sender, err := q1.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("a", "b"), true))
	// Simulate a crash: no clean Close, so the restarted instance reopens
	// the same directory without a graceful handoff.

	q2, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	defer q2.Close()

	receiver, err := q2.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(10, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs(got))
}

// Scenario 4: partial receive then commit, then restart.
func TestFilesQueue_PartialReceiveThenRestart(t *testing.T) {
	root := t.TempDir()
	cfg := filequeue.FileConfig{Name: "orders", Root: root, Directory: "orders", LockDisabled: true}

	q1, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	sender, err := q1.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("p", "q", "r", "s"), true))

	receiver, err := q1.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, strs(got))
	require.NoError(t, receiver.Commit())
	require.NoError(t, q1.Close())

	q2, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	defer q2.Close()

	r2, err := q2.NewReceiver()
	require.NoError(t, err)
	got, err = r2.Receive(10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "s"}, strs(got))
}

// Scenario 5: merge policy.
func TestFilesQueue_MergePolicy(t *testing.T) {
	q, dir := newFileQueue(t, func(c *filequeue.FileConfig) {
		c.MergeLimit = 3
		c.MergeSplit = 5
	})

	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("a"), true))
	require.NoError(t, sender.Send(msgs("b", "c"), true))
	require.NoError(t, sender.Send(msgs("d", "e", "f"), true))
	require.NoError(t, sender.Close())

	dataFiles := 0
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".data" {
			dataFiles++
		}
	}
	assert.Equal(t, 2, dataFiles)

	receiver, err := q.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, strs(got))
}

// Scenario 6: bad entry quarantine.
func TestFilesQueue_BadEntryQuarantine(t *testing.T) {
	root := t.TempDir()
	cfg := filequeue.FileConfig{Name: "orders", Root: root, Directory: "orders"}
	dir := filepath.Join(root, cfg.Directory)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	name := fmt.Sprintf("%020d", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".data"), []byte("not base64!!!\n"), 0o644))

	q, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	defer q.Close()

	_, err = os.Stat(filepath.Join(dir, name+".bad"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, name+".data"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 0, q.Info().MessageCount)
}

// Invariant 4: idempotent rollback.
func TestFilesQueue_IdempotentRollback(t *testing.T) {
	q, _ := newFileQueue(t, nil)

	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("m1", "m2"), true))
	require.NoError(t, sender.Close())

	receiver, err := q.NewReceiver()
	require.NoError(t, err)

	before, err := receiver.Receive(10, time.Second)
	require.NoError(t, err)
	require.NoError(t, receiver.Rollback())

	after, err := receiver.Receive(10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, strs(before), strs(after))
}

// Invariant 5: at most one active receiver.
func TestFilesQueue_SecondReceiverDropsFirst(t *testing.T) {
	q, _ := newFileQueue(t, nil)

	r1, err := q.NewReceiver()
	require.NoError(t, err)
	r2, err := q.NewReceiver()
	require.NoError(t, err)
	assert.NotSame(t, r1, r2)

	_, err = r1.Receive(1, 0)
	assert.ErrorIs(t, err, filequeue.ErrClosedSession)
}

// Receive blocks until a sender commits, honoring timeout for the first
// message.
func TestFilesQueue_ReceiveBlocksUntilCommit(t *testing.T) {
	q, _ := newFileQueue(t, nil)

	receiver, err := q.NewReceiver()
	require.NoError(t, err)

	type result struct {
		msgs []filequeue.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		got, err := receiver.Receive(10, 2*time.Second)
		done <- result{got, err}
	}()

	time.Sleep(50 * time.Millisecond)
	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("late"), true))
	require.NoError(t, sender.Close())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"late"}, strs(r.msgs))
	case <-time.After(3 * time.Second):
		t.Fatal("receive never returned")
	}
}

func TestFilesQueue_ReceiveTimesOutEmpty(t *testing.T) {
	q, _ := newFileQueue(t, nil)
	receiver, err := q.NewReceiver()
	require.NoError(t, err)

	got, err := receiver.Receive(10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFilesQueue_Purge(t *testing.T) {
	q, _ := newFileQueue(t, nil)

	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("a", "b", "c"), true))
	require.NoError(t, sender.Close())

	receiver, err := q.NewReceiver()
	require.NoError(t, err)
	n, err := receiver.Purge()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, q.Info().MessageCount)
}

// Compressed entries: a partial receive persists a decompressed-byte
// next-read position, and recovery must size the entry in that same unit
// (rather than the smaller on-disk/compressed byte count) or the restarted
// queue will spuriously quarantine a perfectly good entry (spec.md §4.5).
func TestFilesQueue_CompressedPartialReceiveThenRestart(t *testing.T) {
	root := t.TempDir()
	cfg := filequeue.FileConfig{
		Name:         "orders",
		Root:         root,
		Directory:    "orders",
		LockDisabled: true,
		Compressed:   true,
	}

	q1, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	sender, err := q1.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("p", "q", "r", "s"), true))

	receiver, err := q1.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, strs(got))
	require.NoError(t, receiver.Commit())
	require.NoError(t, q1.Close())

	q2, err := filequeue.NewFilesQueue(cfg, line.New())
	require.NoError(t, err)
	defer q2.Close()

	assert.Equal(t, 2, q2.Info().MessageCount)

	r2, err := q2.NewReceiver()
	require.NoError(t, err)
	got, err = r2.Receive(10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"r", "s"}, strs(got))
}

// Compressed merge: three committed transactions land in two gzip
// multistream data files (concatenated independent gzip streams decompress
// fine), and the merged tail entry's recorded size stays in the same
// logical unit used elsewhere, surviving a restart without quarantine.
func TestFilesQueue_CompressedMergePolicy(t *testing.T) {
	q, dir := newFileQueue(t, func(c *filequeue.FileConfig) {
		c.Compressed = true
		c.MergeLimit = 3
		c.MergeSplit = 5
	})

	sender, err := q.NewSender()
	require.NoError(t, err)
	require.NoError(t, sender.Send(msgs("a"), true))
	require.NoError(t, sender.Send(msgs("b", "c"), true))
	require.NoError(t, sender.Send(msgs("d", "e", "f"), true))
	require.NoError(t, sender.Close())

	dataFiles := 0
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".gz" {
			dataFiles++
		}
	}
	assert.Equal(t, 2, dataFiles)

	receiver, err := q.NewReceiver()
	require.NoError(t, err)
	got, err := receiver.Receive(10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, strs(got))
}
