package interop

import (
	"fmt"

	"github.com/ugparu/vdec"
)

// VideoFrame is a view of a mapped surface. It stays valid until the entry it was taken from is
// freed; afterwards every accessor returns ErrMappingReleased.
type VideoFrame struct {
	pool      *Pool
	idx       int
	gen       uint64
	Width     uint32
	Height    uint32
	Format    vdec.SurfaceFormat
	Pitch     [MaxLayers]uint32
	Offset    [MaxLayers]uint32
	NumLayers int
}

// Index returns the surface index.
func (f *VideoFrame) Index() int {
	return f.idx
}

// Valid reports whether the mapping behind f is still live.
func (f *VideoFrame) Valid() bool {
	if f.idx >= len(f.pool.entries) {
		return false
	}
	e := &f.pool.entries[f.idx]
	return e.state == Mapped && e.gen == f.gen
}

// Memory returns the whole mapped object.
func (f *VideoFrame) Memory() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("surface %d: %w", f.idx, ErrMappingReleased)
	}
	return f.pool.entries[f.idx].mem.Bytes(), nil
}

// Plane returns layer i from its offset to the end of the mapping.
func (f *VideoFrame) Plane(i int) ([]byte, error) {
	mem, err := f.Memory()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= f.NumLayers {
		return nil, fmt.Errorf("%w: plane %d of %d", vdec.ErrInvalidParameter, i, f.NumLayers)
	}
	off := f.Offset[i]
	if int(off) > len(mem) {
		return nil, fmt.Errorf("%w: plane %d offset %d beyond mapping of %d bytes", vdec.ErrRuntime, i, off, len(mem))
	}
	return mem[off:], nil
}
