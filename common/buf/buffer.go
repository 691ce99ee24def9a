package buf

import (
	"io"
)

const (
	// BufferSize is the read size used by endpoints and the first slab a Buffer grows to.
	BufferSize = 16 * 1024
)

// Buffer is a growable byte queue: bytes are appended at the tail and consumed from
// the head. Storage comes from the slab pools and is recycled on growth and Release.
type Buffer struct {
	data  []byte
	start int
	end   int
}

func New() *Buffer {
	return new(Buffer)
}

func NewSize(size int) *Buffer {
	return &Buffer{data: Get(size)}
}

func (b *Buffer) Len() int {
	return b.end - b.start
}

func (b *Buffer) IsEmpty() bool {
	return b.end == b.start
}

// Bytes aliases the buffered bytes until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

func (b *Buffer) From(n int) []byte {
	return b.data[b.start+n : b.end]
}

func (b *Buffer) To(n int) []byte {
	return b.data[b.start : b.start+n]
}

func (b *Buffer) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	b.grow(len(data))
	n := copy(b.data[b.end:], data)
	b.end += n
	return n, nil
}

// ReadOnceFrom performs a single Read of up to BufferSize bytes into the tail.
func (b *Buffer) ReadOnceFrom(r io.Reader) (int, error) {
	b.grow(BufferSize)
	n, err := r.Read(b.data[b.end:])
	b.end += n
	return n, err
}

// Advance drops n bytes from the head.
func (b *Buffer) Advance(n int) {
	if n > b.Len() {
		panic("buffer advance beyond end")
	}
	b.start += n
	if b.start == b.end {
		b.start = 0
		b.end = 0
	}
}

// Take removes the first n bytes and returns them in a freshly allocated slice.
func (b *Buffer) Take(n int) []byte {
	if n > b.Len() {
		panic("buffer take beyond end")
	}
	taken := make([]byte, n)
	copy(taken, b.To(n))
	b.Advance(n)
	return taken
}

func (b *Buffer) Reset() {
	b.start = 0
	b.end = 0
}

func (b *Buffer) Release() {
	if b == nil {
		return
	}
	Put(b.data)
	*b = Buffer{}
}

func (b *Buffer) grow(n int) {
	length := b.Len()
	if len(b.data)-b.end >= n {
		return
	}
	if length+n <= len(b.data) {
		copy(b.data, b.data[b.start:b.end])
		b.start = 0
		b.end = length
		return
	}
	size := len(b.data) * 2
	if size < length+n {
		size = length + n
	}
	if size < BufferSize {
		size = BufferSize
	}
	data := Get(size)
	data = data[:cap(data)]
	copy(data, b.data[b.start:b.end])
	Put(b.data)
	b.data = data
	b.start = 0
	b.end = length
}
