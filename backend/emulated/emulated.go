// Package emulated implements a decode engine in host memory. Surfaces are memfd objects so that
// export and import follow the same file descriptor path as a VA-API driver. Decoding runs on a
// worker goroutine and fills each surface with samples derived from the picture's bitstream and
// from its references, which makes the output deterministic for a given stream.
package emulated

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"time"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/backend"
	"github.com/ugparu/vdec/parser"
	"github.com/ugparu/vdec/utils/buffer"
	"github.com/ugparu/vdec/utils/logger"
	"golang.org/x/sys/unix"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("emulated: decoder closed")

type surface struct {
	fd     int
	mem    []byte
	status parser.DecodeStatus
	done   chan struct{}
	seed   uint32
}

type job struct {
	idx    int
	data   buffer.PooledBuffer
	width  uint32
	height uint32
	refs   []int
	fail   bool
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLatency delays every decode by d.
func WithLatency(d time.Duration) Option {
	return func(dec *Decoder) {
		dec.latency = d
	}
}

// WithFailure makes the decode of the n-th submitted picture (1 based) report an error.
func WithFailure(n int) Option {
	return func(dec *Decoder) {
		dec.failAt = n
	}
}

// Decoder is the emulated engine.
type Decoder struct {
	mu        sync.Mutex
	info      backend.CreateInfo
	layout    layout
	surfaces  []surface
	jobs      chan job
	wg        sync.WaitGroup
	running   bool
	closed    bool
	latency   time.Duration
	failAt    int
	submitted int
}

// New returns an uninitialized engine.
func New(opts ...Option) *Decoder {
	dec := &Decoder{}
	for _, o := range opts {
		o(dec)
	}
	return dec
}

// Factory returns a backend.Factory creating engines with opts.
func Factory(opts ...Option) backend.Factory {
	return func() backend.Decoder {
		return New(opts...)
	}
}

// Initialize allocates the surfaces and starts the worker.
func (d *Decoder) Initialize(info *backend.CreateInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return fmt.Errorf("%w: decoder already initialized", vdec.ErrInvalidParameter)
	}
	return d.start(info)
}

func (d *Decoder) start(info *backend.CreateInfo) error {
	d.info = *info
	d.layout = newLayout(info)
	d.surfaces = make([]surface, info.NumDecodeSurfaces)
	for i := range d.surfaces {
		d.surfaces[i].fd = -1
	}
	for i := range d.surfaces {
		if err := d.allocSurface(i); err != nil {
			d.freeSurfaces()
			return errors.Join(vdec.ErrRuntime, err)
		}
	}
	d.jobs = make(chan job, info.NumDecodeSurfaces)
	d.running = true
	d.wg.Add(1)
	go d.worker(d.jobs)
	logger.Debugf(d, "Started with %d surfaces of %d bytes", len(d.surfaces), d.layout.size)
	return nil
}

func (d *Decoder) allocSurface(i int) error {
	fd, err := unix.MemfdCreate(fmt.Sprintf("vdec-surface-%d", i), unix.MFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("memfd_create: %w", err)
	}
	if err = unix.Ftruncate(fd, int64(d.layout.size)); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, int(d.layout.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("mmap: %w", err)
	}
	d.surfaces[i] = surface{fd: fd, mem: mem}
	return nil
}

func (d *Decoder) freeSurfaces() {
	for i := range d.surfaces {
		s := &d.surfaces[i]
		if s.mem != nil {
			if err := unix.Munmap(s.mem); err != nil {
				logger.Errorf(d, "Can not unmap surface %d: %v", i, err)
			}
		}
		if s.fd >= 0 {
			_ = unix.Close(s.fd)
			s.fd = -1
		}
	}
	d.surfaces = nil
}

// stop drains the worker. Called with d.mu held; the lock is released while waiting.
func (d *Decoder) stop() {
	if !d.running {
		return
	}
	close(d.jobs)
	d.running = false
	d.mu.Unlock()
	d.wg.Wait()
	d.mu.Lock()
}

func (d *Decoder) surface(picIdx int) (*surface, error) {
	if d.closed {
		return nil, ErrClosed
	}
	if !d.running {
		return nil, fmt.Errorf("%w: decoder is not initialized", vdec.ErrInvalidParameter)
	}
	if picIdx < 0 || picIdx >= len(d.surfaces) {
		return nil, fmt.Errorf("%w: surface %d outside [0, %d)", vdec.ErrInvalidParameter, picIdx, len(d.surfaces))
	}
	return &d.surfaces[picIdx], nil
}

// SubmitDecode queues params for the worker.
func (d *Decoder) SubmitDecode(params *parser.PicParams) error {
	if params == nil {
		return fmt.Errorf("%w: nil picture params", vdec.ErrInvalidParameter)
	}
	d.mu.Lock()
	s, err := d.surface(params.CurrPicIdx)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if s.status == parser.DecodeStatusInProgress {
		d.mu.Unlock()
		return fmt.Errorf("%w: surface %d is still being decoded", vdec.ErrRuntime, params.CurrPicIdx)
	}
	if params.Width > d.info.Width || params.Height > d.info.Height {
		d.mu.Unlock()
		return fmt.Errorf("%w: picture %dx%d exceeds surface %dx%d", vdec.ErrInvalidParameter,
			params.Width, params.Height, d.info.Width, d.info.Height)
	}
	var refs []int
	if params.Codec != nil && !params.IntraPic {
		refs = params.Codec.ReferenceSurfaces()
	}
	d.submitted++
	s.status = parser.DecodeStatusInProgress
	s.done = make(chan struct{})
	j := job{
		idx:    params.CurrPicIdx,
		data:   buffer.Clone(params.Bitstream),
		width:  params.Width,
		height: params.Height,
		refs:   refs,
		fail:   d.failAt > 0 && d.submitted == d.failAt,
	}
	jobs := d.jobs
	d.mu.Unlock()

	jobs <- j
	return nil
}

func (d *Decoder) worker(jobs <-chan job) {
	defer d.wg.Done()
	for j := range jobs {
		if d.latency > 0 {
			time.Sleep(d.latency)
		}
		d.decode(j)
		j.data.Release()
	}
}

func (d *Decoder) decode(j job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := &d.surfaces[j.idx]
	seed := crc32.ChecksumIEEE(j.data.Data())
	status := parser.DecodeStatusSuccess
	if j.fail {
		status = parser.DecodeStatusError
	}
	var word [4]byte
	for _, r := range j.refs {
		if r < 0 || r >= len(d.surfaces) {
			status = parser.DecodeStatusError
			continue
		}
		binary.LittleEndian.PutUint32(word[:], d.surfaces[r].seed)
		seed = crc32.Update(seed, crc32.IEEETable, word[:])
	}
	d.fill(s.mem, seed, j.width, j.height)
	s.seed = seed
	s.status = status
	close(s.done)
	s.done = nil
}

// fill writes a sample pattern covering the picture area of every plane.
func (d *Decoder) fill(mem []byte, seed, width, height uint32) {
	bitDepth := uint32(d.info.BitDepth) //nolint:gosec // 8, 10 or 12
	maxVal := uint32(1)<<bitDepth - 1
	for p, pl := range planesFor(d.layout.format, d.info.Chroma, width, height) {
		layer := d.layout.layers[p]
		base := seed >> (uint(p) * 8) //nolint:mnd
		for y := range pl.rows {
			row := mem[layer.Offset+y*layer.Pitch:]
			for x := range pl.widthSamples {
				v := (base + x + y*7) & maxVal //nolint:mnd
				if d.layout.bps == 1 {
					row[x] = byte(v)
					continue
				}
				binary.LittleEndian.PutUint16(row[2*x:], uint16(v<<(16-bitDepth))) //nolint:gosec,mnd // P016 is MSB aligned
			}
		}
	}
}

// GetDecodeStatus reports the state of the last decode into picIdx.
func (d *Decoder) GetDecodeStatus(picIdx int) (parser.DecodeStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.surface(picIdx)
	if err != nil {
		return parser.DecodeStatusInvalid, err
	}
	return s.status, nil
}

// SyncSurface waits for the last decode into picIdx.
func (d *Decoder) SyncSurface(picIdx int) error {
	d.mu.Lock()
	s, err := d.surface(picIdx)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	done := s.done
	d.mu.Unlock()

	if done != nil {
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, err = d.surface(picIdx); err != nil {
		return err
	}
	if s.status == parser.DecodeStatusError {
		return fmt.Errorf("%w: decode into surface %d failed", vdec.ErrRuntime, picIdx)
	}
	return nil
}

// ExportSurface duplicates the surface fd. The caller closes the returned descriptors.
func (d *Decoder) ExportSurface(picIdx int) (*backend.SurfaceDescriptor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.surface(picIdx)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Dup(s.fd)
	if err != nil {
		return nil, errors.Join(vdec.ErrRuntime, fmt.Errorf("dup surface %d: %w", picIdx, err))
	}
	layers := make([]backend.Layer, len(d.layout.layers))
	copy(layers, d.layout.layers)
	return &backend.SurfaceDescriptor{
		Width:   d.info.Width,
		Height:  d.info.Height,
		Format:  d.layout.format,
		Objects: []backend.Object{{Fd: fd, Size: d.layout.size}},
		Layers:  layers,
	}, nil
}

// Reconfigure waits for pending decodes and reallocates the surfaces.
func (d *Decoder) Reconfigure(info *backend.CreateInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.stop()
	d.freeSurfaces()
	logger.Infof(d, "Reconfiguring to %s", info)
	return d.start(info)
}

// Close waits for pending decodes and frees the surfaces. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.stop()
	d.freeSurfaces()
	d.closed = true
	logger.Debugf(d, "Closed after %d pictures", d.submitted)
	return nil
}

func (d *Decoder) String() string {
	return "EMULATED_DECODER"
}
