package decoder

import (
	"errors"
	"fmt"
	"image"
	"runtime/debug"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/backend"
	"github.com/ugparu/vdec/backend/emulated"
	"github.com/ugparu/vdec/interop"
	"github.com/ugparu/vdec/parser"
	"github.com/ugparu/vdec/utils/logger"
)

// Options configures a FrameDecoder.
type Options struct {
	Codec        vdec.CodecType
	DisplayDelay int             // Pictures held back before output.
	ZeroLatency  bool            // Output every picture as soon as it is decoded. Overrides DisplayDelay.
	Crop         image.Rectangle // Output window, empty for the display area of the stream.
	MinSurfaces  int             // Lower bound on the number of decode surfaces.
	Backend      backend.Factory // Decode engine, the emulated engine when nil.
	Importer     interop.Importer
	Reconfig     *ReconfigParams // Flush strategy on reconfiguration, pending pictures are dropped when nil.
}

// Validate checks options that do not depend on the stream.
func (o *Options) Validate() error {
	if o.DisplayDelay < 0 || o.DisplayDelay > parser.MaxDisplayDelay {
		return fmt.Errorf("%w: display delay %d outside [0, %d]", vdec.ErrInvalidParameter, o.DisplayDelay, parser.MaxDisplayDelay)
	}
	if o.MinSurfaces < 0 {
		return fmt.Errorf("%w: negative surface count", vdec.ErrInvalidParameter)
	}
	if !o.Crop.Empty() {
		c := o.Crop
		if c.Min.X < 0 || c.Min.Y < 0 {
			return fmt.Errorf("%w: crop %v starts outside the picture", vdec.ErrInvalidParameter, c)
		}
		if c.Min.X%2 != 0 || c.Min.Y%2 != 0 || c.Dx()%2 != 0 || c.Dy()%2 != 0 {
			return fmt.Errorf("%w: crop %v must have even offsets and size", vdec.ErrInvalidParameter, c)
		}
	}
	if o.Reconfig != nil {
		return o.Reconfig.Validate()
	}
	return nil
}

func (o *Options) displayDelay() int {
	if o.ZeroLatency {
		return 0
	}
	return o.DisplayDelay
}

// FrameDecoder decodes access units into display ordered pictures. It is the parser client: the
// parser drives the session through the callbacks while DecodeFrame runs. A FrameDecoder is used
// from one goroutine at a time.
type FrameDecoder struct {
	opts     Options
	parser   parser.VideoParser
	session  *Session
	format   parser.VideoFormat
	out      OutputSurfaceInfo
	hasSeq   bool
	ready    []parser.DispInfo // decoded, waiting for GetFrame
	handed   []parser.DispInfo // returned by GetFrame, waiting for ReleaseFrame
	reconfig *ReconfigParams

	callDecoded, callReady int
	totalDecoded           int
	flushed                int
	lastErr                error
	fatal                  error
	closed                 bool
}

// NewFrameDecoder validates opts and creates the parser. Surfaces are allocated once the first
// sequence header is seen.
func NewFrameDecoder(opts Options) (*FrameDecoder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Backend == nil {
		opts.Backend = emulated.Factory()
	}
	d := &FrameDecoder{
		opts:     opts,
		reconfig: opts.Reconfig,
	}
	p, err := CreateParser(&parser.Params{
		Codec:                opts.Codec,
		MaxNumDecodeSurfaces: opts.MinSurfaces,
		MaxDisplayDelay:      opts.displayDelay(),
		Client:               d,
	})
	if err != nil {
		return nil, err
	}
	d.parser = p
	logger.Debugf(d, "Created with display delay %d", opts.displayDelay())
	return d, nil
}

// SequenceCallback creates the session for the first sequence and reconfigures it for every
// following one.
func (d *FrameDecoder) SequenceCallback(format *parser.VideoFormat) (int, error) {
	rect := format.DisplayArea.Intersect(image.Rect(0, 0, int(format.CodedWidth), int(format.CodedHeight)))
	if !d.opts.Crop.Empty() {
		if !d.opts.Crop.In(image.Rect(0, 0, int(format.CodedWidth), int(format.CodedHeight))) {
			return 0, fmt.Errorf("%w: crop %v outside %dx%d picture",
				vdec.ErrInvalidParameter, d.opts.Crop, format.CodedWidth, format.CodedHeight)
		}
		rect = d.opts.Crop
	}
	if rect.Empty() {
		rect = image.Rect(0, 0, int(format.CodedWidth), int(format.CodedHeight))
	}

	info := &backend.CreateInfo{
		Codec:             format.Codec,
		Width:             format.CodedWidth,
		Height:            format.CodedHeight,
		BitDepth:          format.BitDepth,
		Chroma:            format.Chroma,
		NumDecodeSurfaces: format.MinNumDecodeSurfaces,
	}

	if d.session == nil {
		s, err := NewSession(d.opts.Backend(), d.opts.Importer, info)
		if err != nil {
			return 0, err
		}
		d.session = s
	} else {
		if err := d.flushReady(); err != nil {
			return 0, err
		}
		if err := d.session.Reconfigure(info); err != nil {
			return 0, err
		}
	}

	d.format = *format
	d.out = newOutputSurfaceInfo(rect, info.SurfaceFormat(), format.Chroma)
	d.hasSeq = true
	logger.Infof(d, "Sequence %s, output %v", format, rect)
	return info.NumDecodeSurfaces, nil
}

// flushReady hands the pictures nobody collected yet to the flush strategy. Pictures handed out
// by GetFrame and not released are abandoned; their mappings go away with the reconfiguration.
func (d *FrameDecoder) flushReady() error {
	ready := d.ready
	d.ready = nil
	d.callReady = 0
	if len(d.handed) > 0 {
		logger.Debugf(d, "Abandoning %d pictures still held by the caller", len(d.handed))
		d.handed = nil
	}
	if len(ready) == 0 {
		return nil
	}
	hook := d.reconfig != nil && d.reconfig.Flush != nil
	w := d.reconfig.target()
	if !hook && w == nil {
		logger.Debugf(d, "Dropping %d pending pictures", len(ready))
		return nil
	}
	for _, info := range ready {
		vf, err := d.session.GetVideoFrame(info.PicIdx)
		if err != nil {
			return err
		}
		if hook {
			err = d.reconfig.Flush(&OutputFrame{PicIdx: info.PicIdx, Pts: info.Pts, Frame: vf})
		} else {
			err = WriteFrame(w, vf, &d.out)
		}
		if err != nil {
			return errors.Join(vdec.ErrRuntime, err)
		}
		d.flushed++
	}
	logger.Debugf(d, "Flushed %d pictures", len(ready))
	return nil
}

// DecodePicture submits a picture to the session.
func (d *FrameDecoder) DecodePicture(params *parser.PicParams) error {
	if d.session == nil {
		return fmt.Errorf("%w: picture before sequence", vdec.ErrRuntime)
	}
	if err := d.session.DecodeFrame(params); err != nil {
		return err
	}
	d.callDecoded++
	d.totalDecoded++
	return nil
}

// DisplayPicture queues a picture for GetFrame.
func (d *FrameDecoder) DisplayPicture(info *parser.DispInfo) error {
	d.ready = append(d.ready, *info)
	d.callReady++
	return nil
}

// DecodeStatus forwards to the session.
func (d *FrameDecoder) DecodeStatus(picIdx int) (parser.DecodeStatus, error) {
	if d.session == nil {
		return parser.DecodeStatusInvalid, fmt.Errorf("%w: no session", vdec.ErrRuntime)
	}
	return d.session.GetDecodeStatus(picIdx)
}

// SyncPicture forwards to the session.
func (d *FrameDecoder) SyncPicture(picIdx int) error {
	if d.session == nil {
		return fmt.Errorf("%w: no session", vdec.ErrRuntime)
	}
	return d.session.SyncPicture(picIdx)
}

// DecodeFrame parses one access unit. It returns the number of pictures that became ready for
// output and the number of pictures submitted for decode. Empty data ends the stream and flushes
// every pending picture. A parse error drops the access unit; decoding may continue. A capacity
// error is fatal: every later call returns it until Close.
func (d *FrameDecoder) DecodeFrame(data []byte, flags vdec.PacketFlags, pts int64) (frames, decoded int, err error) {
	if d.closed {
		return 0, 0, fmt.Errorf("%w: decoder closed", vdec.ErrInvalidParameter)
	}
	if d.fatal != nil {
		return 0, 0, d.fatal
	}
	if len(data) == 0 {
		flags |= vdec.FlagEndOfStream
	}

	d.callDecoded, d.callReady = 0, 0
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(d, "Panic while parsing: %v\n%s", r, debug.Stack())
			d.fatal = fmt.Errorf("%w: panic while parsing: %v", vdec.ErrRuntime, r)
			err = d.fatal
		}
		frames, decoded = d.callReady, d.callDecoded
	}()

	err = d.parser.ParseVideoData(&vdec.AccessUnit{Data: data, Pts: pts, Flags: flags})
	if err != nil {
		d.lastErr = err
		if !vdec.IsParseError(err) {
			logger.Errorf(d, "Decoding pts %d failed: %v", pts, err)
		}
		// A picture lost to pool exhaustion breaks every later reference.
		if errors.Is(err, vdec.ErrCapacity) {
			d.fatal = err
		}
	}
	return frames, decoded, err
}

// GetFrame returns the next picture in display order, nil when none is ready. The picture stays
// reserved until ReleaseFrame is called with its pts.
func (d *FrameDecoder) GetFrame() (*OutputFrame, error) {
	if len(d.ready) == 0 {
		return nil, nil //nolint:nilnil // no picture is not an error
	}
	info := d.ready[0]
	vf, err := d.session.GetVideoFrame(info.PicIdx)
	if err != nil {
		return nil, err
	}
	d.ready = d.ready[1:]
	d.handed = append(d.handed, info)
	return &OutputFrame{PicIdx: info.PicIdx, Pts: info.Pts, Frame: vf}, nil
}

// ReleaseFrame returns the oldest outstanding picture with the given pts to the decoder.
func (d *FrameDecoder) ReleaseFrame(pts int64) error {
	for i, info := range d.handed {
		if info.Pts != pts {
			continue
		}
		d.handed = append(d.handed[:i], d.handed[i+1:]...)
		return d.parser.MarkFrameForReuse(info.PicIdx)
	}
	return fmt.Errorf("%w: no outstanding picture with pts %d", vdec.ErrInvalidParameter, pts)
}

// GetVideoFrame maps a decode surface.
func (d *FrameDecoder) GetVideoFrame(picIdx int) (*interop.VideoFrame, error) {
	if d.session == nil {
		return nil, fmt.Errorf("%w: no sequence decoded yet", vdec.ErrInvalidParameter)
	}
	return d.session.GetVideoFrame(picIdx)
}

// FreeVideoFrame unmaps a decode surface.
func (d *FrameDecoder) FreeVideoFrame(picIdx int) error {
	if d.session == nil {
		return fmt.Errorf("%w: no sequence decoded yet", vdec.ErrInvalidParameter)
	}
	return d.session.FreeVideoFrame(picIdx)
}

// SetReconfigParams replaces the flush strategy.
func (d *FrameDecoder) SetReconfigParams(params *ReconfigParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	d.reconfig = params
	return nil
}

// GetNumOfFlushedFrames returns the number of pictures written out by the flush strategy.
func (d *FrameDecoder) GetNumOfFlushedFrames() int {
	return d.flushed
}

// NumDecoded returns the number of pictures submitted for decode since creation.
func (d *FrameDecoder) NumDecoded() int {
	return d.totalDecoded
}

// OutputSurfaceInfo describes the output of the current sequence.
func (d *FrameDecoder) OutputSurfaceInfo() (OutputSurfaceInfo, error) {
	if !d.hasSeq {
		return OutputSurfaceInfo{}, fmt.Errorf("%w: no sequence decoded yet", vdec.ErrInvalidParameter)
	}
	return d.out, nil
}

// Format returns the current sequence.
func (d *FrameDecoder) Format() (parser.VideoFormat, bool) {
	return d.format, d.hasSeq
}

// Session returns the session, nil before the first sequence.
func (d *FrameDecoder) Session() *Session {
	return d.session
}

// LastError returns the last error DecodeFrame reported.
func (d *FrameDecoder) LastError() error {
	return d.lastErr
}

// Close releases the parser and the session.
func (d *FrameDecoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.parser.UnInitialize()
	if d.session != nil {
		err = errors.Join(err, d.session.Close())
	}
	logger.Debugf(d, "Closed after %d pictures", d.totalDecoded)
	return err
}

func (d *FrameDecoder) String() string {
	return fmt.Sprintf("FRAME_DECODER %s", d.opts.Codec)
}
