package vp9

import (
	"github.com/ugparu/vdec"
)

// SegmentParams are the per segment values the hardware needs.
type SegmentParams struct {
	ReferenceEnabled   bool
	ReferenceFrame     uint8
	SkipEnabled        bool
	FilterLevel        [MaxRefFrames][MaxModeLfDeltas]uint8
	LumaDcQuantScale   int16
	LumaAcQuantScale   int16
	ChromaDcQuantScale int16
	ChromaAcQuantScale int16
}

// PicParams is the VP9 part of the picture parameters.
type PicParams struct {
	FrameWidth   uint32
	FrameHeight  uint32
	RenderWidth  uint32
	RenderHeight uint32

	ReferenceFrames  [NumRefFrames]int // decode surface per reference slot, -1 when empty
	RefFrameIdx      [RefsPerFrame]uint8
	RefFrameSignBias [RefsPerFrame]bool

	Profile      uint8
	BitDepth     int
	SubsamplingX bool
	SubsamplingY bool
	ColorSpace   ColorSpace
	ColorRange   bool

	FrameType                 FrameType
	LastFrameType             FrameType
	ShowFrame                 bool
	ErrorResilientMode        bool
	IntraOnly                 bool
	AllowHighPrecisionMv      bool
	InterpFilter              InterpFilter
	RefreshFrameContext       bool
	FrameParallelDecodingMode bool
	ResetFrameContext         uint8
	FrameContextIdx           uint8
	UsePrevFrameMvs           bool
	Lossless                  bool

	FilterLevel    uint8
	SharpnessLevel uint8
	BaseQIdx       uint8

	Log2TileColumns uint8
	Log2TileRows    uint8

	SegmentationEnabled        bool
	SegmentationUpdateMap      bool
	SegmentationTemporalUpdate bool
	MbSegmentTreeProbs         [SegTreeProbs]uint8
	SegmentPredProbs           [PredictionProbs]uint8
	Segments                   [MaxSegments]SegmentParams

	UncompressedHeaderSize uint32
	CompressedHeaderSize   uint32
}

// CodecType implements parser.CodecPicParams.
func (p *PicParams) CodecType() vdec.CodecType {
	return vdec.VP9
}

// ReferenceSurfaces returns the surfaces of the active references of an inter frame.
func (p *PicParams) ReferenceSurfaces() []int {
	if p.FrameType == KeyFrame || p.IntraOnly {
		return nil
	}
	out := make([]int, 0, RefsPerFrame)
	for _, slot := range p.RefFrameIdx {
		if s := p.ReferenceFrames[slot]; s >= 0 {
			out = append(out, s)
		}
	}
	return out
}
