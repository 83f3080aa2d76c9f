package vp9

import (
	"errors"
	"fmt"
	"image"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/parser"
	"github.com/ugparu/vdec/utils/logger"
)

// Parser turns VP9 access units into picture parameters and display events.
type Parser struct {
	parser.Base
	hdr       UncompressedHeader
	dpb       DecodedPictureBuffer
	yDequant  Dequant
	uvDequant Dequant
	lvlLookup LoopFilterLevels
	format    parser.VideoFormat
	seqActive bool
	surfaceW  uint32
	surfaceH  uint32
	currPic   Picture
	picCount  uint64
}

// New returns an uninitialized VP9 parser.
func New() *Parser {
	p := &Parser{}
	p.hdr.Reset()
	return p
}

// Initialize prepares the parser for a new stream.
func (p *Parser) Initialize(params *parser.Params) error {
	if params != nil && params.Codec != vdec.VP9 {
		return fmt.Errorf("%w: VP9 parser created for %s", vdec.ErrInvalidParameter, params.Codec)
	}
	if err := p.InitBase(params); err != nil {
		return err
	}
	p.resetStream()
	logger.Debugf(p, "Initialized with display delay %d", p.DisplayDelay())
	return nil
}

// UnInitialize drops all stream state.
func (p *Parser) UnInitialize() error {
	logger.Debugf(p, "Uninitialized after %d pictures", p.picCount)
	p.resetStream()
	return nil
}

func (p *Parser) resetStream() {
	p.hdr.Reset()
	p.ResetPool(0)
	p.dpb.Init(0, p.Pool())
	p.format = parser.VideoFormat{}
	p.seqActive = false
	p.surfaceW, p.surfaceH = 0, 0
	p.picCount = 0
}

// Header returns the header of the last parsed frame.
func (p *Parser) Header() *UncompressedHeader {
	return &p.hdr
}

// DPB returns the decoded picture buffer.
func (p *Parser) DPB() *DecodedPictureBuffer {
	return &p.dpb
}

// ParseVideoData parses one access unit. Parse errors drop the offending chunk and are returned
// after being captured; any other error is fatal for the stream.
func (p *Parser) ParseVideoData(au *vdec.AccessUnit) error {
	if au == nil {
		return fmt.Errorf("%w: nil access unit", vdec.ErrInvalidParameter)
	}
	if p.Client() == nil {
		return fmt.Errorf("%w: parser is not initialized", vdec.ErrInvalidParameter)
	}

	var parseErr error
	if len(au.Data) > 0 {
		if err := p.parsePictureData(au.Data, au.Pts); err != nil {
			if !vdec.IsParseError(err) {
				return err
			}
			p.CaptureError(err)
			parseErr = err
		}
	}
	if au.IsEndOfStream() {
		if err := p.FlushDpb(); err != nil {
			return err
		}
	}
	return parseErr
}

func (p *Parser) parsePictureData(data []byte, pts int64) error {
	frames, err := SplitSuperframe(data)
	if err != nil {
		return err
	}
	for i, frame := range frames {
		if err = p.parseFrame(frame, pts); err != nil {
			if len(frames) > 1 {
				return fmt.Errorf("superframe frame %d of %d: %w", i+1, len(frames), err)
			}
			return err
		}
	}
	return nil
}

func (p *Parser) parseFrame(frame []byte, pts int64) (err error) {
	if err = p.CheckAndUpdateDecStatus(); err != nil {
		return err
	}

	// A dropped frame leaves no header state behind.
	saved := p.hdr
	committed := false
	defer func() {
		if err != nil && !committed {
			p.hdr = saved
		}
	}()

	if err = p.hdr.Parse(frame, &p.dpb); err != nil {
		return err
	}
	if p.hdr.ShowExistingFrame {
		slot := int(p.hdr.FrameToShowMapIdx)
		pic, ok := p.dpb.RefPicture(slot)
		if !ok {
			return vdec.NewParseError("show existing frame references empty slot %d", slot)
		}
		committed = true
		return p.showExistingFrame(pic, pts)
	}
	if err = p.checkSequence(); err != nil {
		return err
	}
	if !p.hdr.FrameIsIntra {
		if err = p.validateReferences(); err != nil {
			return err
		}
	}

	decBufIdx, err := p.FindFreeInDecBufPool(pts)
	if err != nil {
		return err
	}
	picIdx, err := p.dpb.FindFreeAndMark(decBufIdx)
	if err != nil {
		p.Pool().Clear(decBufIdx, parser.UsedForDecode)
		return err
	}
	p.currPic = Picture{PicIdx: picIdx, DecBufIdx: decBufIdx}

	p.yDequant, p.uvDequant = SetupSegDequant(&p.hdr)
	p.lvlLookup = LoopFilterFrameInit(&p.hdr)

	if err = p.SendPicForDecode(frame, pts); err != nil {
		p.dpb.Unmark(picIdx)
		return err
	}
	p.UpdateRefFrames()
	committed = true
	if p.hdr.ShowFrame {
		p.QueueForDisplay(decBufIdx, pts)
	}
	p.hdr.FrameDone()
	p.picCount++
	return p.OutputDecodedPictures(false)
}

func (p *Parser) showExistingFrame(pic Picture, pts int64) error {
	logger.Tracef(p, "Show existing frame from slot %d surface %d", p.hdr.FrameToShowMapIdx, pic.DecBufIdx)
	p.QueueForDisplay(pic.DecBufIdx, pts)
	p.hdr.FrameDone()
	return p.OutputDecodedPictures(false)
}

// checkSequence starts a new sequence on key frames that change the geometry or the sample
// format. Other frames must fit the surfaces of the running sequence.
func (p *Parser) checkSequence() error {
	h := &p.hdr
	chroma := vdec.ChromaFromSubsampling(h.SubsamplingX, h.SubsamplingY)
	formatChanged := h.BitDepth != p.format.BitDepth || chroma != p.format.Chroma
	sizeChanged := h.FrameWidth != p.format.CodedWidth || h.FrameHeight != p.format.CodedHeight

	if h.FrameType == KeyFrame {
		if !p.seqActive || formatChanged || sizeChanged {
			return p.NotifyNewSequence()
		}
		return nil
	}
	if !p.seqActive {
		return vdec.NewParseError("stream must start with a key frame")
	}
	if formatChanged {
		return vdec.NewParseError("sample format change to %dbit %s requires a key frame", h.BitDepth, chroma)
	}
	if h.FrameWidth > p.surfaceW || h.FrameHeight > p.surfaceH {
		return vdec.NewParseError("frame %dx%d exceeds decode surfaces %dx%d", h.FrameWidth, h.FrameHeight,
			p.surfaceW, p.surfaceH)
	}
	return nil
}

// NotifyNewSequence flushes the running sequence and announces the new one to the client.
func (p *Parser) NotifyNewSequence() error {
	h := &p.hdr
	if p.seqActive {
		if err := p.FlushDpb(); err != nil {
			return err
		}
	}

	p.format = parser.VideoFormat{
		Codec:                vdec.VP9,
		CodedWidth:           h.FrameWidth,
		CodedHeight:          h.FrameHeight,
		DisplayArea:          image.Rect(0, 0, int(h.RenderWidth), int(h.RenderHeight)),
		BitDepth:             h.BitDepth,
		Chroma:               vdec.ChromaFromSubsampling(h.SubsamplingX, h.SubsamplingY),
		Profile:              int(h.Profile),
		MinNumDecodeSurfaces: p.PoolSize(MinDecodeBuffers),
	}
	logger.Infof(p, "New sequence %s", &p.format)

	n, err := p.Client().SequenceCallback(&p.format)
	if err != nil {
		p.seqActive = false
		return err
	}
	if n == 0 {
		n = p.format.MinNumDecodeSurfaces
	}
	if n < p.format.MinNumDecodeSurfaces {
		p.seqActive = false
		return fmt.Errorf("%w: client allocated %d surfaces, sequence needs %d",
			vdec.ErrInvalidParameter, n, p.format.MinNumDecodeSurfaces)
	}
	p.ResetPool(n)
	p.dpb.Init(n, p.Pool())
	p.surfaceW, p.surfaceH = h.FrameWidth, h.FrameHeight
	p.seqActive = true
	return nil
}

// Format returns the active sequence format.
func (p *Parser) Format() (parser.VideoFormat, bool) {
	return p.format, p.seqActive
}

func (p *Parser) validateReferences() error {
	h := &p.hdr
	for i := range RefsPerFrame {
		slot := int(h.RefFrameIdx[i])
		ref, ok := p.dpb.RefAttributes(slot)
		if !ok {
			return vdec.NewParseError("reference %s uses empty slot %d", refNames[LastFrame+i], slot)
		}
		if 2*h.FrameWidth < ref.Width || 2*h.FrameHeight < ref.Height ||
			h.FrameWidth > 16*ref.Width || h.FrameHeight > 16*ref.Height {
			return vdec.NewParseError("reference %s %dx%d cannot be scaled to %dx%d", refNames[LastFrame+i],
				ref.Width, ref.Height, h.FrameWidth, h.FrameHeight)
		}
	}
	return nil
}

// SendPicForDecode fills the picture parameters of the current frame and submits them.
func (p *Parser) SendPicForDecode(frame []byte, pts int64) error {
	params := p.buildPicParams()
	pp := &parser.PicParams{
		CurrPicIdx: p.currPic.DecBufIdx,
		Width:      p.hdr.FrameWidth,
		Height:     p.hdr.FrameHeight,
		IntraPic:   p.hdr.FrameIsIntra,
		RefPic:     p.hdr.RefreshFrameFlags != 0,
		Pts:        pts,
		Bitstream:  frame,
		Codec:      params,
	}
	logger.Tracef(p, "Decode %s frame %dx%d into surface %d", p.hdr.FrameType, pp.Width, pp.Height, pp.CurrPicIdx)
	if err := p.Client().DecodePicture(pp); err != nil {
		return errors.Join(vdec.ErrRuntime, err)
	}
	return nil
}

func (p *Parser) buildPicParams() *PicParams {
	h := &p.hdr
	pp := &PicParams{
		FrameWidth:                 h.FrameWidth,
		FrameHeight:                h.FrameHeight,
		RenderWidth:                h.RenderWidth,
		RenderHeight:               h.RenderHeight,
		RefFrameIdx:                h.RefFrameIdx,
		Profile:                    h.Profile,
		BitDepth:                   h.BitDepth,
		SubsamplingX:               h.SubsamplingX,
		SubsamplingY:               h.SubsamplingY,
		ColorSpace:                 h.ColorSpace,
		ColorRange:                 h.ColorRange,
		FrameType:                  h.FrameType,
		LastFrameType:              h.LastFrameType,
		ShowFrame:                  h.ShowFrame,
		ErrorResilientMode:         h.ErrorResilient,
		IntraOnly:                  h.IntraOnly,
		AllowHighPrecisionMv:       h.AllowHighPrecisionMv,
		InterpFilter:               h.InterpFilter,
		RefreshFrameContext:        h.RefreshFrameContext,
		FrameParallelDecodingMode:  h.FrameParallelDecodingMode,
		ResetFrameContext:          h.ResetFrameContext,
		FrameContextIdx:            h.FrameContextIdx,
		UsePrevFrameMvs:            h.UsePrevFrameMvs,
		Lossless:                   h.Quant.Lossless,
		FilterLevel:                h.LoopFilter.Level,
		SharpnessLevel:             h.LoopFilter.Sharpness,
		BaseQIdx:                   h.Quant.BaseQIdx,
		Log2TileColumns:            h.Tile.ColsLog2,
		Log2TileRows:               h.Tile.RowsLog2,
		SegmentationEnabled:        h.Segmentation.Enabled,
		SegmentationUpdateMap:      h.Segmentation.UpdateMap,
		SegmentationTemporalUpdate: h.Segmentation.TemporalUpdate,
		MbSegmentTreeProbs:         h.Segmentation.TreeProbs,
		SegmentPredProbs:           h.Segmentation.PredProbs,
		UncompressedHeaderSize:     uint32(h.UncompressedHeaderSize), //nolint:gosec // bounded by the frame size
		CompressedHeaderSize:       uint32(h.HeaderSizeInBytes),
	}
	for i := range NumRefFrames {
		pp.ReferenceFrames[i] = p.dpb.RefSurface(i)
	}
	for i := range RefsPerFrame {
		pp.RefFrameSignBias[i] = h.RefFrameSignBias[LastFrame+i]
	}
	seg := &h.Segmentation
	for i := range MaxSegments {
		pp.Segments[i] = SegmentParams{
			ReferenceEnabled:   seg.FeatureActive(i, SegLvlRefFrame),
			ReferenceFrame:     uint8(seg.FeatureData[i][SegLvlRefFrame]), //nolint:gosec // 2 bit field
			SkipEnabled:        seg.FeatureActive(i, SegLvlSkip),
			FilterLevel:        p.lvlLookup[i],
			LumaDcQuantScale:   p.yDequant[i][0],
			LumaAcQuantScale:   p.yDequant[i][1],
			ChromaDcQuantScale: p.uvDequant[i][0],
			ChromaAcQuantScale: p.uvDequant[i][1],
		}
	}
	return pp
}

// UpdateRefFrames enters the current picture into the reference slots it refreshes.
func (p *Parser) UpdateRefFrames() {
	h := &p.hdr
	p.dpb.UpdateRefFrames(p.currPic.PicIdx, h.RefreshFrameFlags, RefAttributes{
		Width:        h.FrameWidth,
		Height:       h.FrameHeight,
		SubsamplingX: h.SubsamplingX,
		SubsamplingY: h.SubsamplingY,
		BitDepth:     h.BitDepth,
	})
}

// FlushDpb hands every picture waiting for display to the client and empties the reference slots.
func (p *Parser) FlushDpb() error {
	if !p.seqActive {
		return nil
	}
	logger.Debugf(p, "Flushing %d pending pictures", p.PendingDisplay())
	if err := p.OutputDecodedPictures(true); err != nil {
		return err
	}
	p.dpb.Clear()
	return nil
}

func (p *Parser) String() string {
	return "VP9_PARSER"
}
