//nolint:mnd
package vp9

// Syntax constants of the VP9 bitstream.
const (
	FrameMarker      = 2
	SyncCode0        = 0x49
	SyncCode1        = 0x83
	SyncCode2        = 0x42
	MaxProfile       = 3
	NumRefFrames     = 8
	RefsPerFrame     = 3
	MaxRefFrames     = 4
	MaxModeLfDeltas  = 2
	MaxSegments      = 8
	SegLvlMax        = 4
	SegTreeProbs     = MaxSegments - 1
	PredictionProbs  = 3
	MaxLoopFilter    = 63
	MinTileWidthB64  = 4
	MaxTileWidthB64  = 64
	MaxTileCols      = 64
	MaxTileRowsLog2  = 2
	QIndexRange      = 256
	MaxProb          = 255
	MinDecodeBuffers = NumRefFrames + 2
)

// FrameType of a coded frame.
type FrameType uint8

// Frame types.
const (
	KeyFrame FrameType = iota
	NonKeyFrame
)

func (t FrameType) String() string {
	if t == KeyFrame {
		return "KEY"
	}
	return "INTER"
}

// Reference frame names. IntraFrame is only used to index loop filter deltas.
const (
	IntraFrame = iota
	LastFrame
	GoldenFrame
	AltRefFrame
)

var refNames = [MaxRefFrames]string{"INTRA", "LAST", "GOLDEN", "ALTREF"}

// Segment feature indices.
const (
	SegLvlAltQ = iota
	SegLvlAltL
	SegLvlRefFrame
	SegLvlSkip
)

var (
	segmentationFeatureBits   = [SegLvlMax]int{8, 6, 2, 0}
	segmentationFeatureSigned = [SegLvlMax]bool{true, true, false, false}
)

// ColorSpace signalled in the color config.
type ColorSpace uint8

// Color spaces.
const (
	CsUnknown ColorSpace = iota
	CsBt601
	CsBt709
	CsSmpte170
	CsSmpte240
	CsBt2020
	CsReserved
	CsRGB
)

// InterpFilter selects the motion compensation filter.
type InterpFilter uint8

// Interpolation filters.
const (
	EightTap InterpFilter = iota
	EightTapSmooth
	EightTapSharp
	Bilinear
	Switchable
)

var literalToType = [4]InterpFilter{EightTapSmooth, EightTap, EightTapSharp, Bilinear}
