package buf_test

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/sagernet/sing-tcpstream/common/buf"

	"github.com/stretchr/testify/require"
)

func TestBufferAppendConsume(t *testing.T) {
	t.Parallel()
	buffer := buf.New()
	defer buffer.Release()

	require.True(t, buffer.IsEmpty())
	buffer.Write([]byte("hello "))
	buffer.Write([]byte("world"))
	require.Equal(t, "hello world", string(buffer.Bytes()))

	require.Equal(t, "hello", string(buffer.Take(5)))
	require.Equal(t, " world", string(buffer.Bytes()))
	require.Equal(t, "world", string(buffer.From(1)))
	require.Equal(t, " w", string(buffer.To(2)))

	buffer.Advance(buffer.Len())
	require.True(t, buffer.IsEmpty())
}

func TestBufferGrowKeepsOrder(t *testing.T) {
	t.Parallel()
	buffer := buf.New()
	defer buffer.Release()

	var expected bytes.Buffer
	chunk := make([]byte, 3000)
	for i := 0; i < 40; i++ {
		_, err := io.ReadFull(rand.Reader, chunk)
		require.NoError(t, err)
		buffer.Write(chunk)
		expected.Write(chunk)
		if i%3 == 0 {
			taken := buffer.Take(1000)
			require.Equal(t, expected.Next(1000), taken)
		}
	}
	require.Equal(t, expected.Bytes(), buffer.Bytes())
}

func TestBufferTakeIsDetached(t *testing.T) {
	t.Parallel()
	buffer := buf.New()
	defer buffer.Release()

	buffer.Write([]byte("abcdef"))
	taken := buffer.Take(3)
	buffer.Write([]byte("xyz"))
	require.Equal(t, "abc", string(taken))
	require.Equal(t, "defxyz", string(buffer.Bytes()))
}

func TestBufferReadOnceFrom(t *testing.T) {
	t.Parallel()
	buffer := buf.New()
	defer buffer.Release()

	n, err := buffer.ReadOnceFrom(bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "payload", string(buffer.Bytes()))

	buffer.Reset()
	require.True(t, buffer.IsEmpty())
	_, err = buffer.ReadOnceFrom(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestAllocator(t *testing.T) {
	t.Parallel()
	for _, size := range []int{1, 63, 64, 65, 4096, 65536, 65537} {
		buffer := buf.Get(size)
		require.Len(t, buffer, size)
		if size <= 65536 {
			require.Zero(t, cap(buffer)&(cap(buffer)-1), "size %d", size)
		}
		buf.Put(buffer)
	}
	require.Nil(t, buf.Get(0))
}
