//nolint:mnd
package vp9

import (
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/bits"
)

// RefAttributes are the properties stored with a reference slot.
type RefAttributes struct {
	Width        uint32
	Height       uint32
	SubsamplingX bool
	SubsamplingY bool
	BitDepth     int
}

// RefProvider resolves reference slots while a header is parsed.
type RefProvider interface {
	RefAttributes(slot int) (RefAttributes, bool)
}

// Parse reads the uncompressed header of one frame into h.
func (h *UncompressedHeader) Parse(data []byte, refs RefProvider) error {
	r := bits.NewReader(data)
	if err := h.parse(r, refs); err != nil {
		return err
	}
	if err := r.Err(); err != nil {
		return vdec.NewParseError("truncated uncompressed header: %v", err)
	}
	if !h.ShowExistingFrame && h.UncompressedHeaderSize+int(h.HeaderSizeInBytes) > len(data) {
		return vdec.NewParseError("headers of %d+%d bytes exceed frame of %d bytes",
			h.UncompressedHeaderSize, h.HeaderSizeInBytes, len(data))
	}
	return nil
}

func (h *UncompressedHeader) parse(r *bits.Reader, refs RefProvider) error {
	if marker := r.ReadBits(2); marker != FrameMarker {
		return vdec.NewParseError("invalid frame marker %d", marker)
	}
	profileLow := r.ReadBits(1)
	profileHigh := r.ReadBits(1)
	h.Profile = uint8(profileHigh<<1 | profileLow)
	if h.Profile == MaxProfile && r.ReadBits(1) != 0 {
		return vdec.NewParseError("reserved bit set in profile 3 header")
	}

	h.ShowExistingFrame = r.ReadBool()
	if h.ShowExistingFrame {
		h.FrameToShowMapIdx = uint8(r.ReadBits(3))
		h.HeaderSizeInBytes = 0
		h.RefreshFrameFlags = 0
		h.LoopFilter.Level = 0
		h.UncompressedHeaderSize = r.BytesConsumed()
		return nil
	}

	h.LastFrameType = h.FrameType
	h.FrameType = FrameType(r.ReadBits(1))
	h.ShowFrame = r.ReadBool()
	h.ErrorResilient = r.ReadBool()
	h.SizeRefIdx = -1
	h.IntraOnly = false
	h.ResetFrameContext = 0

	if h.FrameType == KeyFrame {
		if err := readSyncCode(r); err != nil {
			return err
		}
		if err := h.readColorConfig(r); err != nil {
			return err
		}
		h.readFrameSize(r)
		h.readRenderSize(r)
		h.RefreshFrameFlags = 0xff
		h.FrameIsIntra = true
	} else {
		if !h.ShowFrame {
			h.IntraOnly = r.ReadBool()
		}
		h.FrameIsIntra = h.IntraOnly
		if !h.ErrorResilient {
			h.ResetFrameContext = uint8(r.ReadBits(2))
		}
		if h.IntraOnly {
			if err := readSyncCode(r); err != nil {
				return err
			}
			if h.Profile > 0 {
				if err := h.readColorConfig(r); err != nil {
					return err
				}
			} else {
				h.ColorConfig = ColorConfig{
					BitDepth:     8,
					ColorSpace:   CsBt601,
					ColorRange:   false,
					SubsamplingX: true,
					SubsamplingY: true,
				}
			}
			h.RefreshFrameFlags = uint8(r.ReadBits(8))
			h.readFrameSize(r)
			h.readRenderSize(r)
		} else {
			h.RefreshFrameFlags = uint8(r.ReadBits(8))
			for i := range RefsPerFrame {
				h.RefFrameIdx[i] = uint8(r.ReadBits(3))
				h.RefFrameSignBias[LastFrame+i] = r.ReadBool()
			}
			if err := h.readFrameSizeWithRefs(r, refs); err != nil {
				return err
			}
			h.AllowHighPrecisionMv = r.ReadBool()
			h.readInterpolationFilter(r)
		}
	}
	if h.FrameIsIntra {
		h.RefFrameSignBias = [MaxRefFrames]bool{}
	}

	if !h.ErrorResilient {
		h.RefreshFrameContext = r.ReadBool()
		h.FrameParallelDecodingMode = r.ReadBool()
	} else {
		h.RefreshFrameContext = false
		h.FrameParallelDecodingMode = true
	}
	h.FrameContextIdx = uint8(r.ReadBits(2))
	if h.FrameIsIntra || h.ErrorResilient {
		h.setupPastIndependence()
	}

	h.readLoopFilterParams(r)
	h.readQuantizationParams(r)
	h.readSegmentationParams(r)
	if err := h.readTileInfo(r); err != nil {
		return err
	}

	h.HeaderSizeInBytes = uint16(r.ReadBits(16))
	if r.Err() == nil && h.HeaderSizeInBytes == 0 {
		return vdec.NewParseError("compressed header size is zero")
	}
	r.ByteAlign()
	h.UncompressedHeaderSize = r.BytesConsumed()
	return nil
}

func readSyncCode(r *bits.Reader) error {
	b0, b1, b2 := r.ReadBits(8), r.ReadBits(8), r.ReadBits(8)
	if r.Err() != nil {
		return nil // reported as truncation by the caller
	}
	if b0 != SyncCode0 || b1 != SyncCode1 || b2 != SyncCode2 {
		return vdec.NewParseError("invalid frame sync code %02x%02x%02x", b0, b1, b2)
	}
	return nil
}

func (h *UncompressedHeader) readColorConfig(r *bits.Reader) error {
	h.BitDepth = 8
	if h.Profile >= 2 {
		h.BitDepth = 10
		if r.ReadBool() {
			h.BitDepth = 12
		}
	}
	h.ColorSpace = ColorSpace(r.ReadBits(3))
	oddProfile := h.Profile == 1 || h.Profile == 3
	if h.ColorSpace != CsRGB {
		h.ColorRange = r.ReadBool()
		if oddProfile {
			h.SubsamplingX = r.ReadBool()
			h.SubsamplingY = r.ReadBool()
			if r.ReadBits(1) != 0 {
				return vdec.NewParseError("reserved bit set in color config")
			}
			if h.SubsamplingX && h.SubsamplingY {
				return vdec.NewParseError("4:2:0 color not allowed in profile %d", h.Profile)
			}
		} else {
			h.SubsamplingX = true
			h.SubsamplingY = true
		}
		return nil
	}

	h.ColorRange = true
	if !oddProfile {
		return vdec.NewParseError("RGB color not allowed in profile %d", h.Profile)
	}
	h.SubsamplingX = false
	h.SubsamplingY = false
	if r.ReadBits(1) != 0 {
		return vdec.NewParseError("reserved bit set in color config")
	}
	return nil
}

func (h *UncompressedHeader) readFrameSize(r *bits.Reader) {
	h.FrameWidth = r.ReadBits(16) + 1
	h.FrameHeight = r.ReadBits(16) + 1
	h.computeImageSize()
}

func (h *UncompressedHeader) readRenderSize(r *bits.Reader) {
	if r.ReadBool() {
		h.RenderWidth = r.ReadBits(16) + 1
		h.RenderHeight = r.ReadBits(16) + 1
		return
	}
	h.RenderWidth = h.FrameWidth
	h.RenderHeight = h.FrameHeight
}

// readFrameSizeWithRefs copies the frame size from the first reference flagged by found_ref. The
// reference must share the sample format of the frame; its stored attributes become the frame's.
func (h *UncompressedHeader) readFrameSizeWithRefs(r *bits.Reader, refs RefProvider) error {
	for i := range RefsPerFrame {
		if !r.ReadBool() {
			continue
		}
		slot := int(h.RefFrameIdx[i])
		attrs, ok := refs.RefAttributes(slot)
		if !ok {
			return vdec.NewParseError("size reference %s uses empty slot %d", refNames[LastFrame+i], slot)
		}
		if attrs.SubsamplingX != h.SubsamplingX || attrs.SubsamplingY != h.SubsamplingY ||
			attrs.BitDepth != h.BitDepth {
			return vdec.NewParseError("size reference %s in slot %d has incompatible format", refNames[LastFrame+i], slot)
		}
		h.FrameWidth = attrs.Width
		h.FrameHeight = attrs.Height
		h.SubsamplingX = attrs.SubsamplingX
		h.SubsamplingY = attrs.SubsamplingY
		h.BitDepth = attrs.BitDepth
		h.SizeRefIdx = i
		h.computeImageSize()
		h.readRenderSize(r)
		return nil
	}
	h.readFrameSize(r)
	h.readRenderSize(r)
	return nil
}

func (h *UncompressedHeader) readInterpolationFilter(r *bits.Reader) {
	if r.ReadBool() {
		h.InterpFilter = Switchable
		return
	}
	h.InterpFilter = literalToType[r.ReadBits(2)]
}

func (h *UncompressedHeader) readLoopFilterParams(r *bits.Reader) {
	lf := &h.LoopFilter
	lf.Level = uint8(r.ReadBits(6))
	lf.Sharpness = uint8(r.ReadBits(3))
	lf.DeltaEnabled = r.ReadBool()
	lf.DeltaUpdate = false
	if !lf.DeltaEnabled {
		return
	}
	lf.DeltaUpdate = r.ReadBool()
	if !lf.DeltaUpdate {
		return
	}
	for i := range MaxRefFrames {
		if r.ReadBool() {
			lf.RefDeltas[i] = int8(r.ReadSigned(6))
		}
	}
	for i := range MaxModeLfDeltas {
		if r.ReadBool() {
			lf.ModeDeltas[i] = int8(r.ReadSigned(6))
		}
	}
}

func readDeltaQ(r *bits.Reader) int8 {
	if r.ReadBool() {
		return int8(r.ReadSigned(4))
	}
	return 0
}

func (h *UncompressedHeader) readQuantizationParams(r *bits.Reader) {
	q := &h.Quant
	q.BaseQIdx = uint8(r.ReadBits(8))
	q.DeltaQYDc = readDeltaQ(r)
	q.DeltaQUVDc = readDeltaQ(r)
	q.DeltaQUVAc = readDeltaQ(r)
	q.Lossless = q.BaseQIdx == 0 && q.DeltaQYDc == 0 && q.DeltaQUVDc == 0 && q.DeltaQUVAc == 0
}

func readProb(r *bits.Reader) uint8 {
	if r.ReadBool() {
		return uint8(r.ReadBits(8))
	}
	return MaxProb
}

func (h *UncompressedHeader) readSegmentationParams(r *bits.Reader) {
	s := &h.Segmentation
	s.Enabled = r.ReadBool()
	s.UpdateMap = false
	s.TemporalUpdate = false
	s.UpdateData = false
	if !s.Enabled {
		return
	}

	s.UpdateMap = r.ReadBool()
	if s.UpdateMap {
		for i := range SegTreeProbs {
			s.TreeProbs[i] = readProb(r)
		}
		s.TemporalUpdate = r.ReadBool()
		for i := range PredictionProbs {
			s.PredProbs[i] = MaxProb
			if s.TemporalUpdate {
				s.PredProbs[i] = readProb(r)
			}
		}
	}

	s.UpdateData = r.ReadBool()
	if !s.UpdateData {
		return
	}
	s.AbsOrDeltaUpdate = r.ReadBool()
	for i := range MaxSegments {
		for j := range SegLvlMax {
			var value int16
			enabled := r.ReadBool()
			s.FeatureEnabled[i][j] = enabled
			if enabled {
				value = int16(r.ReadBits(segmentationFeatureBits[j]))
				if segmentationFeatureSigned[j] && r.ReadBool() {
					value = -value
				}
			}
			s.FeatureData[i][j] = value
		}
	}
}

func calcMinLog2TileCols(sb64Cols uint32) uint8 {
	var minLog2 uint8
	for (uint32(MaxTileWidthB64) << minLog2) < sb64Cols {
		minLog2++
	}
	return minLog2
}

func calcMaxLog2TileCols(sb64Cols uint32) uint8 {
	var maxLog2 uint8 = 1
	for (sb64Cols >> maxLog2) >= MinTileWidthB64 {
		maxLog2++
	}
	return maxLog2 - 1
}

func (h *UncompressedHeader) readTileInfo(r *bits.Reader) error {
	t := &h.Tile
	t.MinLog2Cols = calcMinLog2TileCols(h.Sb64Cols)
	t.MaxLog2Cols = calcMaxLog2TileCols(h.Sb64Cols)
	if t.MinLog2Cols > t.MaxLog2Cols {
		return vdec.NewParseError("no valid tile column count for %d superblock columns", h.Sb64Cols)
	}
	t.ColsLog2 = t.MinLog2Cols
	for t.ColsLog2 < t.MaxLog2Cols && r.ReadBool() {
		t.ColsLog2++
	}
	if 1<<t.ColsLog2 > MaxTileCols {
		return vdec.NewParseError("tile count overflow: %d tile columns", 1<<t.ColsLog2)
	}
	t.RowsLog2 = uint8(r.ReadBits(1))
	if t.RowsLog2 == 1 {
		t.RowsLog2 += uint8(r.ReadBits(1))
	}
	return nil
}
