package vp9

// ColorConfig holds the sample format of a frame.
type ColorConfig struct {
	BitDepth     int
	ColorSpace   ColorSpace
	ColorRange   bool // full range
	SubsamplingX bool
	SubsamplingY bool
}

// LoopFilterParams carries the loop filter syntax. Deltas persist across frames.
type LoopFilterParams struct {
	Level        uint8
	Sharpness    uint8
	DeltaEnabled bool
	DeltaUpdate  bool
	RefDeltas    [MaxRefFrames]int8
	ModeDeltas   [MaxModeLfDeltas]int8
}

// QuantizationParams carries the frame level quantizer.
type QuantizationParams struct {
	BaseQIdx   uint8
	DeltaQYDc  int8
	DeltaQUVDc int8
	DeltaQUVAc int8
	Lossless   bool
}

// SegmentationParams carries the segmentation syntax. Feature data persists across frames.
type SegmentationParams struct {
	Enabled          bool
	UpdateMap        bool
	TemporalUpdate   bool
	UpdateData       bool
	AbsOrDeltaUpdate bool
	TreeProbs        [SegTreeProbs]uint8
	PredProbs        [PredictionProbs]uint8
	FeatureEnabled   [MaxSegments][SegLvlMax]bool
	FeatureData      [MaxSegments][SegLvlMax]int16
}

// FeatureActive reports whether feature is in use for segment.
func (s *SegmentationParams) FeatureActive(segment, feature int) bool {
	return s.Enabled && s.FeatureEnabled[segment][feature]
}

// TileInfo carries the tile layout.
type TileInfo struct {
	MinLog2Cols uint8
	MaxLog2Cols uint8
	ColsLog2    uint8
	RowsLog2    uint8
}

// UncompressedHeader is the uncompressed header of the frame being parsed. A single value is
// kept per parser; syntax elements VP9 carries from frame to frame stay in place between frames.
type UncompressedHeader struct {
	Profile           uint8
	ShowExistingFrame bool
	FrameToShowMapIdx uint8
	FrameType         FrameType
	LastFrameType     FrameType
	ShowFrame         bool
	ErrorResilient    bool
	IntraOnly         bool
	ResetFrameContext uint8
	ColorConfig

	FrameWidth   uint32
	FrameHeight  uint32
	RenderWidth  uint32
	RenderHeight uint32

	RefreshFrameFlags    uint8
	RefFrameIdx          [RefsPerFrame]uint8
	RefFrameSignBias     [MaxRefFrames]bool
	SizeRefIdx           int // active reference the frame size was copied from, -1 if coded explicitly
	AllowHighPrecisionMv bool
	InterpFilter         InterpFilter

	RefreshFrameContext       bool
	FrameParallelDecodingMode bool
	FrameContextIdx           uint8

	LoopFilter   LoopFilterParams
	Quant        QuantizationParams
	Segmentation SegmentationParams
	Tile         TileInfo

	HeaderSizeInBytes      uint16 // compressed header
	UncompressedHeaderSize int

	FrameIsIntra    bool
	MiCols          uint32
	MiRows          uint32
	Sb64Cols        uint32
	Sb64Rows        uint32
	UsePrevFrameMvs bool

	sizeKnown     bool
	lastWidth     uint32
	lastHeight    uint32
	lastShowFrame bool
	lastIntraOnly bool
}

// Reset returns the header to its state before the first frame of a stream.
func (h *UncompressedHeader) Reset() {
	*h = UncompressedHeader{SizeRefIdx: -1}
}

// FrameDone records what the next frame needs to know about this one.
func (h *UncompressedHeader) FrameDone() {
	if h.ShowExistingFrame {
		h.lastShowFrame = true
		return
	}
	h.sizeKnown = true
	h.lastWidth = h.FrameWidth
	h.lastHeight = h.FrameHeight
	h.lastShowFrame = h.ShowFrame
	h.lastIntraOnly = h.IntraOnly
}

func (h *UncompressedHeader) computeImageSize() {
	h.MiCols = (h.FrameWidth + 7) >> 3  //nolint:mnd
	h.MiRows = (h.FrameHeight + 7) >> 3 //nolint:mnd
	h.Sb64Cols = (h.MiCols + 7) >> 3    //nolint:mnd
	h.Sb64Rows = (h.MiRows + 7) >> 3    //nolint:mnd
	h.UsePrevFrameMvs = h.sizeKnown &&
		h.lastWidth == h.FrameWidth &&
		h.lastHeight == h.FrameHeight &&
		h.lastShowFrame &&
		!h.lastIntraOnly &&
		!h.ErrorResilient
}

// setupPastIndependence resets the state carried between frames.
func (h *UncompressedHeader) setupPastIndependence() {
	h.Segmentation.FeatureData = [MaxSegments][SegLvlMax]int16{}
	h.Segmentation.FeatureEnabled = [MaxSegments][SegLvlMax]bool{}
	h.Segmentation.AbsOrDeltaUpdate = false
	h.LoopFilter.DeltaEnabled = true
	h.LoopFilter.RefDeltas = [MaxRefFrames]int8{1, 0, -1, -1}
	h.LoopFilter.ModeDeltas = [MaxModeLfDeltas]int8{0, 0}
}
