// Package interop caches the mapping of exported decode surfaces. Each surface is imported at
// most once; the mapping lives until it is freed explicitly, the pool is reset or closed.
package interop

import (
	"errors"
	"fmt"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/backend"
	"github.com/ugparu/vdec/utils/logger"
	"golang.org/x/sys/unix"
)

// MaxLayers is the largest plane count of a surface.
const MaxLayers = 3

// ErrMappingReleased is returned when a VideoFrame outlives the mapping it was taken from.
var ErrMappingReleased = fmt.Errorf("%w: surface mapping was released", vdec.ErrRuntime)

// State is the lifecycle state of a pool entry.
type State uint8

// Entry states. Released entries may be mapped again.
const (
	Unmapped State = iota
	Mapped
	Released
)

// String returns the human-readable string representation of a State.
func (s State) String() string {
	switch s {
	case Unmapped:
		return "UNMAPPED"
	case Mapped:
		return "MAPPED"
	case Released:
		return "RELEASED"
	}
	return "UNKNOWN"
}

// Entry is the mapping of one decode surface.
type Entry struct {
	state     State
	gen       uint64
	mem       Memory
	width     uint32
	height    uint32
	format    vdec.SurfaceFormat
	offset    [MaxLayers]uint32
	pitch     [MaxLayers]uint32
	numLayers int
}

// ExportFunc exports the surface backing an entry.
type ExportFunc func() (*backend.SurfaceDescriptor, error)

// Pool holds one Entry per decode surface.
type Pool struct {
	importer Importer
	entries  []Entry
	imports  int
}

// NewPool returns a pool of size unmapped entries.
func NewPool(importer Importer, size int) *Pool {
	if importer == nil {
		importer = HostImporter{}
	}
	p := &Pool{importer: importer}
	p.Reset(size)
	return p
}

// Size returns the number of entries.
func (p *Pool) Size() int {
	return len(p.entries)
}

// Imports returns the number of imports performed over the lifetime of the pool.
func (p *Pool) Imports() int {
	return p.imports
}

// State returns the state of entry idx.
func (p *Pool) State(idx int) State {
	if idx < 0 || idx >= len(p.entries) {
		return Unmapped
	}
	return p.entries[idx].state
}

// Mapped returns the number of live mappings.
func (p *Pool) Mapped() (n int) {
	for i := range p.entries {
		if p.entries[i].state == Mapped {
			n++
		}
	}
	return
}

func (p *Pool) check(idx int) error {
	if idx < 0 || idx >= len(p.entries) {
		return fmt.Errorf("%w: surface %d outside pool of %d", vdec.ErrInvalidParameter, idx, len(p.entries))
	}
	return nil
}

// Map returns a view of surface idx, importing it through export on first use.
func (p *Pool) Map(idx int, export ExportFunc) (*VideoFrame, error) {
	if err := p.check(idx); err != nil {
		return nil, err
	}
	e := &p.entries[idx]
	if e.state != Mapped {
		if err := p.importSurface(e, idx, export); err != nil {
			return nil, err
		}
	}
	return &VideoFrame{
		pool:      p,
		idx:       idx,
		gen:       e.gen,
		Width:     e.width,
		Height:    e.height,
		Format:    e.format,
		Pitch:     e.pitch,
		Offset:    e.offset,
		NumLayers: e.numLayers,
	}, nil
}

func (p *Pool) importSurface(e *Entry, idx int, export ExportFunc) error {
	if e.mem != nil {
		return fmt.Errorf("%w: surface %d imported twice", vdec.ErrRuntime, idx)
	}
	desc, err := export()
	if err != nil {
		return fmt.Errorf("export surface %d: %w", idx, err)
	}
	defer closeObjects(desc)

	if len(desc.Objects) == 0 || len(desc.Layers) == 0 || len(desc.Layers) > MaxLayers {
		return fmt.Errorf("%w: surface %d exported %d objects and %d layers", vdec.ErrRuntime, idx,
			len(desc.Objects), len(desc.Layers))
	}
	obj := desc.Objects[0]
	mem, err := p.importer.Import(obj.Fd, int(obj.Size))
	if err != nil {
		return errors.Join(vdec.ErrRuntime, fmt.Errorf("import surface %d: %w", idx, err))
	}
	p.imports++

	*e = Entry{
		state:     Mapped,
		gen:       e.gen,
		mem:       mem,
		width:     desc.Width,
		height:    desc.Height,
		format:    desc.Format,
		numLayers: len(desc.Layers),
	}
	for i, l := range desc.Layers {
		e.offset[i] = l.Offset
		e.pitch[i] = l.Pitch
	}
	logger.Tracef(p, "Mapped surface %d: %d layers pitch %d", idx, e.numLayers, e.pitch[0])
	return nil
}

func closeObjects(desc *backend.SurfaceDescriptor) {
	for _, o := range desc.Objects {
		_ = unix.Close(o.Fd)
	}
}

// Free releases the mapping of surface idx. Freeing an entry that is not mapped only moves it
// to Released.
func (p *Pool) Free(idx int) error {
	if err := p.check(idx); err != nil {
		return err
	}
	e := &p.entries[idx]
	var err error
	if e.mem != nil {
		if err = e.mem.Close(); err != nil {
			err = errors.Join(vdec.ErrRuntime, fmt.Errorf("unmap surface %d: %w", idx, err))
		}
	}
	*e = Entry{state: Released, gen: e.gen + 1}
	return err
}

// FreeAll releases every mapping and reports the first failure.
func (p *Pool) FreeAll() error {
	var errs []error
	for i := range p.entries {
		if err := p.Free(i); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset releases every mapping and resizes the pool.
func (p *Pool) Reset(size int) error {
	err := p.FreeAll()
	old := p.entries
	p.entries = make([]Entry, size)
	for i := range p.entries {
		if i < len(old) {
			p.entries[i].gen = old[i].gen
		}
	}
	return err
}

func (p *Pool) String() string {
	return "INTEROP_POOL"
}
