// Package bits implements an MSB-first bit reader over an immutable byte buffer.
package bits

import (
	"errors"
)

// MaxReadBits is the widest value ReadBits can return in one call.
const MaxReadBits = 32

// Reader errors.
var (
	ErrOutOfRange = errors.New("bits: read past end of buffer")
	ErrTooWide    = errors.New("bits: read wider than 32 bits")
)

// Reader reads bit fields MSB first. The first failed read makes the error sticky:
// every later read returns zero and Err reports the cause.
type Reader struct {
	buf    []byte
	offset int // bit base
	err    error
}

// NewReader returns a new Reader positioned at the first bit of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{
		buf: buf,
	}
}

// ReadBits reads an n-bit unsigned value, 0 <= n <= 32.
func (r *Reader) ReadBits(n int) uint32 {
	if n <= 0 || r.err != nil {
		return 0
	}
	if n > MaxReadBits {
		r.err = ErrTooWide
		return 0
	}
	if r.offset+n > len(r.buf)<<3 {
		r.err = ErrOutOfRange
		r.offset = len(r.buf) << 3
		return 0
	}

	var v uint32
	for n > 0 {
		avail := 8 - r.offset&0x7
		take := min(avail, n)
		chunk := (r.buf[r.offset>>3] >> (avail - take)) & byte(1<<take-1)
		v = v<<take | uint32(chunk)
		r.offset += take
		n -= take
	}
	return v
}

// GetBit reads one bit.
func (r *Reader) GetBit() uint32 {
	return r.ReadBits(1)
}

// ReadBool reads one bit as a flag.
func (r *Reader) ReadBool() bool {
	return r.ReadBits(1) == 1
}

// ReadSigned reads n magnitude bits followed by a sign bit.
func (r *Reader) ReadSigned(n int) int32 {
	v := int32(r.ReadBits(n)) //nolint:gosec // n <= 31 in every caller
	if r.ReadBits(1) == 1 {
		return -v
	}
	return v
}

// Skip skips n bits.
func (r *Reader) Skip(n int) {
	for n > MaxReadBits {
		r.ReadBits(MaxReadBits)
		n -= MaxReadBits
	}
	r.ReadBits(n)
}

// ByteAlign advances to the next byte boundary.
func (r *Reader) ByteAlign() {
	if rem := r.offset & 0x7; rem != 0 {
		r.ReadBits(8 - rem)
	}
}

// Offset returns the number of bits consumed.
func (r *Reader) Offset() int {
	return r.offset
}

// BytesConsumed returns the number of bytes touched so far, counting a partial byte as whole.
func (r *Reader) BytesConsumed() int {
	return (r.offset + 7) >> 3
}

// BitsLeft returns the number of unread bits.
func (r *Reader) BitsLeft() int {
	return len(r.buf)<<3 - r.offset
}

// Err returns the first error met while reading.
func (r *Reader) Err() error {
	return r.err
}
