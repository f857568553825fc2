package qpacket

import "errors"

// ErrInsufficientData is returned by ByteBuffer reads
// that ask for more bytes than are buffered
var ErrInsufficientData = errors.New("insufficient data")

// A ByteBuffer is a queue of byte chunks
// Written chunks are not copied, callers must not modify them afterwards
type ByteBuffer struct {
	chunks [][]byte
	size   int
}

// NewByteBuffer returns a ByteBuffer holding data
func NewByteBuffer(data []byte) *ByteBuffer {
	b := &ByteBuffer{}
	b.Write(data)
	return b
}

// Write appends a chunk to the tail of the ByteBuffer
func (b *ByteBuffer) Write(data []byte) {
	if len(data) == 0 {
		return
	}

	b.chunks = append(b.chunks, data)
	b.size += len(data)
}

// Read removes and returns exactly n bytes from the head
// Nothing is consumed if fewer than n bytes are buffered
func (b *ByteBuffer) Read(n int) ([]byte, error) {
	r, err := b.Peek(n)
	if err != nil {
		return nil, err
	}

	b.discard(n)
	return r, nil
}

// Peek returns the first n bytes without consuming them
func (b *ByteBuffer) Peek(n int) ([]byte, error) {
	if n < 0 || n > b.size {
		return nil, ErrInsufficientData
	}

	// Fast path, no copy needed
	if len(b.chunks) > 0 && len(b.chunks[0]) >= n {
		return b.chunks[0][:n:n], nil
	}

	r := make([]byte, 0, n)
	for _, chunk := range b.chunks {
		left := n - len(r)
		if left == 0 {
			break
		}

		if len(chunk) > left {
			chunk = chunk[:left]
		}
		r = append(r, chunk...)
	}

	return r, nil
}

func (b *ByteBuffer) discard(n int) {
	b.size -= n
	for n > 0 {
		head := b.chunks[0]
		if len(head) > n {
			b.chunks[0] = head[n:]
			return
		}

		n -= len(head)
		b.chunks[0] = nil
		b.chunks = b.chunks[1:]
	}

	if len(b.chunks) == 0 {
		b.chunks = nil
	}
}

// HasValues reports whether any unread byte remains
func (b *ByteBuffer) HasValues() bool { return b.size > 0 }

// Len returns the number of unread bytes
func (b *ByteBuffer) Len() int { return b.size }
