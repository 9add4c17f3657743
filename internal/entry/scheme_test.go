package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScheme_PathParse_RoundTrip(t *testing.T) {
	s := DefaultScheme("/queue")
	s.Prefix = "q-"

	name := "00000000000000000042"
	for _, k := range []Kind{Data, Trans, Next, Bad, Backup} {
		path := s.Path(name, k)
		base := path[len("/queue/"):]
		gotName, gotKind, ok := s.Parse(base)
		assert.True(t, ok, "kind %v", k)
		assert.Equal(t, name, gotName)
		assert.Equal(t, k, gotKind)
	}
}

func TestScheme_PathParse_Compressed(t *testing.T) {
	s := DefaultScheme("/queue")
	s.Gzip = true

	name := "00000000000000000001"
	path := s.Path(name, Data)
	assert.Contains(t, path, ".data.gz")

	base := path[len("/queue/"):]
	gotName, gotKind, ok := s.Parse(base)
	assert.True(t, ok)
	assert.Equal(t, name, gotName)
	assert.Equal(t, Data, gotKind)

	// Next is never compressed, even with Gzip set.
	nextPath := s.Path(name, Next)
	assert.NotContains(t, nextPath, ".gz")
}

func TestScheme_Parse_IgnoresUnrelatedFiles(t *testing.T) {
	s := DefaultScheme("/queue")
	_, _, ok := s.Parse("not-a-queue-file.txt")
	assert.False(t, ok)

	_, _, ok = s.Parse("tooshort.data")
	assert.False(t, ok)
}

func TestScheme_LockPath(t *testing.T) {
	s := DefaultScheme("/queue")
	s.Lock = "lk-"
	assert.Equal(t, "/queue/lk-orders.lock", s.LockPath("orders"))
}
