package buffer

import (
	"sync"
)

const (
	defaultBufSize = 4 * 1024         // bitstream copies of small inter frames
	bigBufSize     = 256 * 1024       // key frames
	frameBufSize   = 4 * 1024 * 1024  // host copies of decoded pictures
	maxBufSize     = 32 * 1024 * 1024 // larger buffers are left to the GC
)

var bufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, defaultBufSize),
		}
	},
}

var bigBufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, bigBufSize),
		}
	},
}

var frameBufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, frameBufSize),
		}
	},
}

func poolFor(capacity int) *sync.Pool {
	switch {
	case capacity >= frameBufSize:
		return &frameBufPool
	case capacity >= bigBufSize:
		return &bigBufPool
	default:
		return &bufPool
	}
}

// Get returns a buffer of length size from the pool matching its size class.
func Get(size int) PooledBuffer {
	b := poolFor(size).Get().(*memBuffer) //nolint:forcetypeassert // pools only hold *memBuffer

	if cap(b.buf) < size {
		b.buf = make([]byte, size)
	}
	b.buf = b.buf[:size]
	return b
}

// Clone returns a pooled copy of data.
func Clone(data []byte) PooledBuffer {
	b := Get(len(data))
	copy(b.Data(), data)
	return b
}

type memBuffer struct {
	buf []byte
}

// Data returns the underlying slice.
func (b *memBuffer) Data() []byte {
	return b.buf
}

func (b *memBuffer) Len() int {
	return len(b.buf)
}

func (b *memBuffer) Cap() int {
	return cap(b.buf)
}

// Resize changes the length, reallocating only when the capacity is too small.
func (b *memBuffer) Resize(size int) {
	if size > cap(b.buf) {
		newBuf := make([]byte, size)
		copy(newBuf, b.buf)
		b.buf = newBuf
	} else {
		b.buf = b.buf[:size]
	}
}

// Release returns the buffer to the pool.
func (b *memBuffer) Release() {
	if cap(b.buf) > maxBufSize {
		return
	}
	b.buf = b.buf[:0]
	poolFor(cap(b.buf)).Put(b)
}
