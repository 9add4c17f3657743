// Package fsretry wraps the filesystem operations in the commit/drop paths
// (rename, remove, atomic write) with a retry/backoff loop, per spec.md
// §4.1: "File-system operations ... use a small retry loop ... to tolerate
// transient errors on networked filesystems; exhausting retries surfaces as
// failure, not exception."
package fsretry

import (
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jpillora/backoff"
)

// Policy configures the retry loop (rvpf.queue.file.retries /
// rvpf.queue.file.retry.delay, spec.md §6.2).
type Policy struct {
	// Retries is the number of additional attempts after the first failure.
	// 0 disables retrying: a failure surfaces immediately.
	Retries int

	// Delay is the base backoff delay between attempts.
	Delay time.Duration
}

// Do runs fn, retrying on error up to Retries additional times with
// exponential backoff. The final error (if any) is returned unwrapped; the
// caller decides how to classify it (KindFilesystemTransient vs KindFatal).
func (p Policy) Do(fn func() error) error {
	if p.Retries <= 0 {
		return fn()
	}

	b := &backoff.Backoff{
		Min:    p.Delay,
		Max:    p.Delay * time.Duration(p.Retries+1),
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.Retries {
			break
		}
		time.Sleep(b.Duration())
	}
	return err
}

// Rename renames oldpath to newpath, retrying per policy.
func Rename(policy Policy, oldpath, newpath string) error {
	return policy.Do(func() error { return os.Rename(oldpath, newpath) })
}

// Remove deletes path, retrying per policy. A missing file is not an error.
func Remove(policy Policy, path string) error {
	return policy.Do(func() error {
		err := os.Remove(path)
		if err != nil && os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

// WriteAtomic atomically replaces path's contents with data (rename from a
// temp file in the same directory), retrying per policy.
func WriteAtomic(policy Policy, path string, data []byte, perm os.FileMode) error {
	return policy.Do(func() error { return renameio.WriteFile(path, data, perm) })
}
