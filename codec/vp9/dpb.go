package vp9

import (
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/parser"
)

// Picture binds a frame store slot to the decode surface holding its samples.
type Picture struct {
	PicIdx    int
	DecBufIdx int
}

// DecodedPictureBuffer tracks the VP9 reference slots and the frame store behind them.
// The use status of a picture lives in the decode buffer pool entry of its surface.
type DecodedPictureBuffer struct {
	pool         *parser.DecodeBufferPool
	frameStore   []Picture
	refCount     []int
	virtualIndex [NumRefFrames]int
	refAttrs     [NumRefFrames]RefAttributes
}

// Init sizes the frame store and empties every reference slot.
func (d *DecodedPictureBuffer) Init(size int, pool *parser.DecodeBufferPool) {
	d.pool = pool
	d.frameStore = make([]Picture, size)
	d.refCount = make([]int, size)
	for i := range d.frameStore {
		d.frameStore[i] = Picture{PicIdx: i, DecBufIdx: -1}
	}
	for i := range d.virtualIndex {
		d.virtualIndex[i] = -1
		d.refAttrs[i] = RefAttributes{}
	}
}

// Size returns the number of frame store slots.
func (d *DecodedPictureBuffer) Size() int {
	return len(d.frameStore)
}

// UseStatus returns the status of a frame store slot. A slot whose surface was handed to
// another slot is free.
func (d *DecodedPictureBuffer) UseStatus(picIdx int) parser.UseStatus {
	if picIdx < 0 || picIdx >= len(d.frameStore) || d.pool == nil {
		return parser.NotUsed
	}
	pic := d.frameStore[picIdx]
	if pic.DecBufIdx < 0 || d.pool.Owner(pic.DecBufIdx) != picIdx {
		return parser.NotUsed
	}
	return d.pool.Status(pic.DecBufIdx)
}

// RefCount returns the number of reference slots pointing at a frame store slot.
func (d *DecodedPictureBuffer) RefCount(picIdx int) int {
	return d.refCount[picIdx]
}

// FindFreeAndMark picks a slot with no use and no references, binds it to decBufIdx and
// returns it. The slot is never entered into the reference table here.
func (d *DecodedPictureBuffer) FindFreeAndMark(decBufIdx int) (int, error) {
	for i := range d.frameStore {
		if d.refCount[i] != 0 || d.UseStatus(i) != parser.NotUsed {
			continue
		}
		d.frameStore[i] = Picture{PicIdx: i, DecBufIdx: decBufIdx}
		d.pool.SetOwner(decBufIdx, i)
		d.pool.Mark(decBufIdx, parser.UsedForDecode)
		return i, nil
	}
	return -1, vdec.ErrCapacity
}

// Unmark undoes FindFreeAndMark for a picture that was never submitted.
func (d *DecodedPictureBuffer) Unmark(picIdx int) {
	pic := d.frameStore[picIdx]
	if pic.DecBufIdx >= 0 && d.pool.Owner(pic.DecBufIdx) == picIdx {
		d.pool.Clear(pic.DecBufIdx, parser.UsedForDecode)
		d.pool.SetOwner(pic.DecBufIdx, -1)
	}
	d.frameStore[picIdx].DecBufIdx = -1
}

// UpdateRefFrames stores picIdx in every reference slot selected by refresh.
func (d *DecodedPictureBuffer) UpdateRefFrames(picIdx int, refresh uint8, attrs RefAttributes) {
	for i := range NumRefFrames {
		if refresh&(1<<i) == 0 {
			continue
		}
		if old := d.virtualIndex[i]; old >= 0 {
			d.decreaseRefCount(old)
		}
		d.virtualIndex[i] = picIdx
		d.refCount[picIdx]++
		d.refAttrs[i] = attrs
	}
	if d.refCount[picIdx] > 0 {
		d.pool.Mark(d.frameStore[picIdx].DecBufIdx, parser.UsedForReference)
	}
}

func (d *DecodedPictureBuffer) decreaseRefCount(picIdx int) {
	d.refCount[picIdx]--
	if d.refCount[picIdx] == 0 {
		d.pool.Clear(d.frameStore[picIdx].DecBufIdx, parser.UsedForReference)
	}
}

// Clear empties every reference slot.
func (d *DecodedPictureBuffer) Clear() {
	for i := range NumRefFrames {
		if old := d.virtualIndex[i]; old >= 0 {
			d.decreaseRefCount(old)
		}
		d.virtualIndex[i] = -1
		d.refAttrs[i] = RefAttributes{}
	}
}

// RefPicture returns the picture held by a reference slot.
func (d *DecodedPictureBuffer) RefPicture(slot int) (Picture, bool) {
	if slot < 0 || slot >= NumRefFrames || d.virtualIndex[slot] < 0 {
		return Picture{}, false
	}
	return d.frameStore[d.virtualIndex[slot]], true
}

// RefAttributes implements RefProvider.
func (d *DecodedPictureBuffer) RefAttributes(slot int) (RefAttributes, bool) {
	if slot < 0 || slot >= NumRefFrames || d.virtualIndex[slot] < 0 {
		return RefAttributes{}, false
	}
	return d.refAttrs[slot], true
}

// RefSurface returns the decode surface of a reference slot, -1 when empty.
func (d *DecodedPictureBuffer) RefSurface(slot int) int {
	pic, ok := d.RefPicture(slot)
	if !ok {
		return -1
	}
	return pic.DecBufIdx
}

// AssignedRefs returns the number of reference slots in use.
func (d *DecodedPictureBuffer) AssignedRefs() (n int) {
	for _, idx := range d.virtualIndex {
		if idx >= 0 {
			n++
		}
	}
	return
}

// TotalRefCount returns the sum of the per slot reference counts.
func (d *DecodedPictureBuffer) TotalRefCount() (n int) {
	for _, c := range d.refCount {
		n += c
	}
	return
}
