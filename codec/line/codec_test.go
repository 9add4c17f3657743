package line

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filequeue/filequeue"
)

func TestCodec_WriteThenRead_RoundTrip(t *testing.T) {
	c := New()
	var buf bytes.Buffer

	out := c.NewOutput(&buf)
	messages := []filequeue.Message{
		[]byte("first"),
		[]byte("second"),
		[]byte("with\nembedded\nnewlines"),
		{},
	}
	for _, m := range messages {
		require.NoError(t, out.Write(m))
	}
	require.NoError(t, out.Flush())

	in := c.NewInput(&buf)
	for _, want := range messages {
		got, err := in.Next()
		require.NoError(t, err)
		assert.Equal(t, []byte(want), []byte(got))
	}

	_, err := in.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestCodec_Skip(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	out := c.NewOutput(&buf)
	require.NoError(t, out.Write([]byte("a")))
	require.NoError(t, out.Write([]byte("b")))
	require.NoError(t, out.Flush())

	in := c.NewInput(&buf)
	require.NoError(t, in.Skip())
	require.NoError(t, in.Skip())
	assert.ErrorIs(t, in.Skip(), io.EOF)
}

func TestCodec_MalformedRecord(t *testing.T) {
	c := New()
	in := c.NewInput(bytes.NewBufferString("not-valid-base64!!!\n"))
	_, err := in.Next()
	assert.Error(t, err)
}
