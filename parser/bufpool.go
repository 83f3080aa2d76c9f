package parser

import (
	"fmt"

	"github.com/ugparu/vdec"
)

// UseStatus tells why a decode buffer is held.
type UseStatus uint8

// Use status bits. A buffer is free only when no bit is set.
const (
	NotUsed          UseStatus = 0
	UsedForDecode    UseStatus = 1
	UsedForReference UseStatus = 2
	UsedForDisplay   UseStatus = 4
)

func (s UseStatus) String() string {
	if s == NotUsed {
		return "free"
	}
	var out string
	for _, b := range []struct {
		bit  UseStatus
		name string
	}{{UsedForDecode, "decode"}, {UsedForReference, "ref"}, {UsedForDisplay, "disp"}} {
		if s&b.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += b.name
		}
	}
	return out
}

type decodeBuffer struct {
	status    UseStatus
	dispCount int
	owner     int
	pts       int64
}

// DecodeBufferPool tracks the decode surfaces of a sequence by index.
type DecodeBufferPool struct {
	bufs []decodeBuffer
}

// Init resizes the pool to size free buffers.
func (p *DecodeBufferPool) Init(size int) {
	p.bufs = make([]decodeBuffer, size)
	for i := range p.bufs {
		p.bufs[i].owner = -1
	}
}

// Size returns the number of buffers.
func (p *DecodeBufferPool) Size() int {
	return len(p.bufs)
}

func (p *DecodeBufferPool) valid(idx int) bool {
	return idx >= 0 && idx < len(p.bufs)
}

// Status returns the use status of a buffer. Out of range indices read as free.
func (p *DecodeBufferPool) Status(idx int) UseStatus {
	if !p.valid(idx) {
		return NotUsed
	}
	return p.bufs[idx].status
}

// Owner returns the codec picture slot bound to a buffer, -1 when none.
func (p *DecodeBufferPool) Owner(idx int) int {
	if !p.valid(idx) {
		return -1
	}
	return p.bufs[idx].owner
}

// SetOwner binds a codec picture slot to a buffer.
func (p *DecodeBufferPool) SetOwner(idx, owner int) {
	if p.valid(idx) {
		p.bufs[idx].owner = owner
	}
}

// Pts returns the timestamp the buffer was acquired with.
func (p *DecodeBufferPool) Pts(idx int) int64 {
	if !p.valid(idx) {
		return 0
	}
	return p.bufs[idx].pts
}

// Mark sets status bits on a buffer.
func (p *DecodeBufferPool) Mark(idx int, bits UseStatus) {
	if p.valid(idx) {
		p.bufs[idx].status |= bits
	}
}

// Clear clears status bits on a buffer.
func (p *DecodeBufferPool) Clear(idx int, bits UseStatus) {
	if p.valid(idx) {
		p.bufs[idx].status &^= bits
	}
}

// Free returns the number of buffers with no status bit set.
func (p *DecodeBufferPool) Free() (n int) {
	for i := range p.bufs {
		if p.bufs[i].status == NotUsed {
			n++
		}
	}
	return
}

func (p *DecodeBufferPool) findFree() int {
	for i := range p.bufs {
		if p.bufs[i].status == NotUsed {
			return i
		}
	}
	return -1
}

func (p *DecodeBufferPool) acquire(idx int, pts int64) {
	p.bufs[idx] = decodeBuffer{
		status:    UsedForDecode,
		dispCount: 0,
		owner:     -1,
		pts:       pts,
	}
}

func (p *DecodeBufferPool) addDisplay(idx int) {
	p.bufs[idx].dispCount++
	p.bufs[idx].status |= UsedForDisplay
}

func (p *DecodeBufferPool) releaseDisplay(idx int) error {
	if !p.valid(idx) {
		return fmt.Errorf("%w: picture index %d outside pool of %d", vdec.ErrInvalidParameter, idx, len(p.bufs))
	}
	b := &p.bufs[idx]
	if b.dispCount == 0 {
		return fmt.Errorf("%w: picture %d is not held for display", vdec.ErrInvalidParameter, idx)
	}
	b.dispCount--
	if b.dispCount == 0 {
		b.status &^= UsedForDisplay
	}
	return nil
}
