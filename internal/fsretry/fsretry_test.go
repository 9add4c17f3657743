package fsretry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Do_RetriesThenSucceeds(t *testing.T) {
	p := Policy{Retries: 3, Delay: time.Microsecond}

	attempts := 0
	err := p.Do(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPolicy_Do_ExhaustsRetries(t *testing.T) {
	p := Policy{Retries: 2, Delay: time.Microsecond}

	attempts := 0
	sentinel := errors.New("always fails")
	err := p.Do(func() error {
		attempts++
		return sentinel
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 3, attempts) // first attempt + 2 retries
}

func TestPolicy_Do_NoRetryDisabled(t *testing.T) {
	p := Policy{}
	attempts := 0
	err := p.Do(func() error {
		attempts++
		return errors.New("fails")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRemove_MissingFileIsNotAnError(t *testing.T) {
	p := Policy{}
	err := Remove(p, filepath.Join(t.TempDir(), "absent"))
	assert.NoError(t, err)
}

func TestRename_And_WriteAtomic(t *testing.T) {
	dir := t.TempDir()
	p := Policy{}

	src := filepath.Join(dir, "a.trans")
	dst := filepath.Join(dir, "a.data")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))
	require.NoError(t, Rename(p, src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	next := filepath.Join(dir, "a.next")
	require.NoError(t, WriteAtomic(p, next, []byte("42"), 0o644))
	data, err = os.ReadFile(next)
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))
}
