// Package vp9test builds synthetic VP9 frames and superframes for tests. The frames carry a
// valid uncompressed header followed by filler bytes standing in for the compressed data.
package vp9test

// BitWriter writes MSB first bit fields.
type BitWriter struct {
	buf  []byte
	nbit int
}

// WriteBits writes the low n bits of v.
func (w *BitWriter) WriteBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.nbit%8 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[len(w.buf)-1] |= 0x80 >> uint(w.nbit%8)
		}
		w.nbit++
	}
}

// WriteBool writes a single flag.
func (w *BitWriter) WriteBool(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

// WriteSigned writes an n bit magnitude followed by a sign bit.
func (w *BitWriter) WriteSigned(v int, n int) {
	neg := v < 0
	if neg {
		v = -v
	}
	w.WriteBits(uint32(v), n) //nolint:gosec // test values
	w.WriteBool(neg)
}

// Bytes returns the written bits padded with zeros to a byte boundary.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

// Len returns the number of bits written.
func (w *BitWriter) Len() int {
	return w.nbit
}

// Kind selects the header layout of a Frame.
type Kind int

// Frame kinds.
const (
	Key Kind = iota
	Inter
	IntraOnly
	ShowExisting
)

// Segmentation describes the segmentation syntax of a frame.
type Segmentation struct {
	UpdateMap      bool
	TreeProbs      [7]uint8
	TemporalUpdate bool
	PredProbs      [3]uint8
	UpdateData     bool
	AbsDelta       bool
	Enabled        [8][4]bool
	Data           [8][4]int
}

// LoopFilterDeltas describes a loop filter delta update.
type LoopFilterDeltas struct {
	Ref  [4]*int
	Mode [2]*int
}

// Frame describes one VP9 frame.
type Frame struct {
	Kind           Kind
	Profile        uint8
	ShowFrame      bool
	ErrorResilient bool

	BitDepth     int
	ColorSpace   uint8
	FullRange    bool
	SubsamplingX bool
	SubsamplingY bool

	Width        uint32
	Height       uint32
	RenderWidth  uint32
	RenderHeight uint32

	Refresh     uint8
	RefIdx      [3]uint8
	SignBias    [3]bool
	SizeFromRef int // index of the active reference to copy the size from, -1 for explicit
	FrameToShow uint8

	ResetContext    uint8
	RefreshContext  bool
	ParallelMode    bool
	FrameContextIdx uint8
	AllowHighPrecMv bool

	FilterLevel  uint8
	Sharpness    uint8
	DeltaEnabled bool
	Deltas       *LoopFilterDeltas

	BaseQIdx   uint8
	DeltaQYDc  int
	DeltaQUVDc int
	DeltaQUVAc int

	Segmentation *Segmentation

	TileColsLog2 uint8
	TileRowsLog2 uint8

	CompressedSize uint16
	PayloadSize    int
}

// KeyFrame returns a shown 8 bit 4:2:0 key frame refreshing every slot.
func KeyFrame(width, height uint32) *Frame {
	return &Frame{
		Kind:           Key,
		ShowFrame:      true,
		BitDepth:       8,
		ColorSpace:     1,
		SubsamplingX:   true,
		SubsamplingY:   true,
		Width:          width,
		Height:         height,
		Refresh:        0xff,
		SizeFromRef:    -1,
		FilterLevel:    10,
		DeltaEnabled:   true,
		BaseQIdx:       60,
		CompressedSize: 1,
		PayloadSize:    16,
	}
}

// InterFrame returns a shown inter frame predicting from slots 0, 1 and 2 and taking its size
// from LAST.
func InterFrame(refresh uint8) *Frame {
	return &Frame{
		Kind:           Inter,
		ShowFrame:      true,
		Refresh:        refresh,
		RefIdx:         [3]uint8{0, 1, 2},
		SizeFromRef:    0,
		FilterLevel:    10,
		DeltaEnabled:   true,
		BaseQIdx:       80,
		CompressedSize: 1,
		PayloadSize:    16,
	}
}

// IntraOnlyFrame returns a hidden profile 0 intra only frame.
func IntraOnlyFrame(width, height uint32, refresh uint8) *Frame {
	return &Frame{
		Kind:           IntraOnly,
		Width:          width,
		Height:         height,
		Refresh:        refresh,
		SizeFromRef:    -1,
		FilterLevel:    10,
		DeltaEnabled:   true,
		BaseQIdx:       60,
		CompressedSize: 1,
		PayloadSize:    16,
	}
}

// ShowExistingFrame returns a frame redisplaying reference slot idx.
func ShowExistingFrame(idx uint8) *Frame {
	return &Frame{Kind: ShowExisting, FrameToShow: idx, SizeFromRef: -1}
}

// Bytes encodes the frame.
func (f *Frame) Bytes() []byte {
	w := &BitWriter{}
	w.WriteBits(2, 2)
	w.WriteBits(uint32(f.Profile&1), 1)
	w.WriteBits(uint32(f.Profile>>1), 1)
	if f.Profile == 3 {
		w.WriteBits(0, 1)
	}
	w.WriteBool(f.Kind == ShowExisting)
	if f.Kind == ShowExisting {
		w.WriteBits(uint32(f.FrameToShow), 3)
		return w.Bytes()
	}

	w.WriteBool(f.Kind != Key)
	w.WriteBool(f.ShowFrame)
	w.WriteBool(f.ErrorResilient)

	sb64Cols := uint32(0)
	switch f.Kind {
	case Key:
		writeSyncCode(w)
		f.writeColorConfig(w)
		f.writeFrameSize(w)
		f.writeRenderSize(w)
		sb64Cols = f.sb64Cols(f.Width)
	default:
		if !f.ShowFrame {
			w.WriteBool(f.Kind == IntraOnly)
		}
		if !f.ErrorResilient {
			w.WriteBits(uint32(f.ResetContext), 2)
		}
		if f.Kind == IntraOnly {
			writeSyncCode(w)
			if f.Profile > 0 {
				f.writeColorConfig(w)
			}
			w.WriteBits(uint32(f.Refresh), 8)
			f.writeFrameSize(w)
			f.writeRenderSize(w)
			sb64Cols = f.sb64Cols(f.Width)
			break
		}
		w.WriteBits(uint32(f.Refresh), 8)
		for i := range 3 {
			w.WriteBits(uint32(f.RefIdx[i]), 3)
			w.WriteBool(f.SignBias[i])
		}
		if f.SizeFromRef >= 0 {
			for i := 0; i <= f.SizeFromRef; i++ {
				w.WriteBool(i == f.SizeFromRef)
			}
		} else {
			w.WriteBits(0, 3)
			f.writeFrameSize(w)
		}
		f.writeRenderSize(w)
		w.WriteBool(f.AllowHighPrecMv)
		w.WriteBool(true) // switchable interpolation filter
		sb64Cols = f.sb64Cols(f.Width)
	}

	if !f.ErrorResilient {
		w.WriteBool(f.RefreshContext)
		w.WriteBool(f.ParallelMode)
	}
	w.WriteBits(uint32(f.FrameContextIdx), 2)
	f.writeLoopFilter(w)
	f.writeQuant(w)
	f.writeSegmentation(w)
	f.writeTileInfo(w, sb64Cols)
	w.WriteBits(uint32(f.CompressedSize), 16)

	out := w.Bytes()
	out = append(out, make([]byte, int(f.CompressedSize)+f.PayloadSize)...)
	return out
}

// sb64Cols returns the superblock columns for width. Inter frames sized from a reference need
// Width set to that reference's width for the tile syntax to line up; 0 falls back to one column.
func (f *Frame) sb64Cols(width uint32) uint32 {
	if width == 0 {
		return 1
	}
	return (((width + 7) >> 3) + 7) >> 3
}

func writeSyncCode(w *BitWriter) {
	w.WriteBits(0x49, 8)
	w.WriteBits(0x83, 8)
	w.WriteBits(0x42, 8)
}

func (f *Frame) writeColorConfig(w *BitWriter) {
	if f.Profile >= 2 {
		w.WriteBool(f.BitDepth == 12)
	}
	w.WriteBits(uint32(f.ColorSpace), 3)
	odd := f.Profile == 1 || f.Profile == 3
	if f.ColorSpace != 7 {
		w.WriteBool(f.FullRange)
		if odd {
			w.WriteBool(f.SubsamplingX)
			w.WriteBool(f.SubsamplingY)
			w.WriteBits(0, 1)
		}
		return
	}
	if odd {
		w.WriteBits(0, 1)
	}
}

func (f *Frame) writeFrameSize(w *BitWriter) {
	w.WriteBits(f.Width-1, 16)
	w.WriteBits(f.Height-1, 16)
}

func (f *Frame) writeRenderSize(w *BitWriter) {
	differs := f.RenderWidth != 0 && (f.RenderWidth != f.Width || f.RenderHeight != f.Height)
	w.WriteBool(differs)
	if differs {
		w.WriteBits(f.RenderWidth-1, 16)
		w.WriteBits(f.RenderHeight-1, 16)
	}
}

func (f *Frame) writeLoopFilter(w *BitWriter) {
	w.WriteBits(uint32(f.FilterLevel), 6)
	w.WriteBits(uint32(f.Sharpness), 3)
	w.WriteBool(f.DeltaEnabled)
	if !f.DeltaEnabled {
		return
	}
	w.WriteBool(f.Deltas != nil)
	if f.Deltas == nil {
		return
	}
	for _, d := range f.Deltas.Ref {
		w.WriteBool(d != nil)
		if d != nil {
			w.WriteSigned(*d, 6)
		}
	}
	for _, d := range f.Deltas.Mode {
		w.WriteBool(d != nil)
		if d != nil {
			w.WriteSigned(*d, 6)
		}
	}
}

func writeDeltaQ(w *BitWriter, v int) {
	w.WriteBool(v != 0)
	if v != 0 {
		w.WriteSigned(v, 4)
	}
}

func (f *Frame) writeQuant(w *BitWriter) {
	w.WriteBits(uint32(f.BaseQIdx), 8)
	writeDeltaQ(w, f.DeltaQYDc)
	writeDeltaQ(w, f.DeltaQUVDc)
	writeDeltaQ(w, f.DeltaQUVAc)
}

func writeProb(w *BitWriter, p uint8) {
	w.WriteBool(p != 255)
	if p != 255 {
		w.WriteBits(uint32(p), 8)
	}
}

var (
	featureBits   = [4]int{8, 6, 2, 0}
	featureSigned = [4]bool{true, true, false, false}
)

func (f *Frame) writeSegmentation(w *BitWriter) {
	s := f.Segmentation
	w.WriteBool(s != nil)
	if s == nil {
		return
	}
	w.WriteBool(s.UpdateMap)
	if s.UpdateMap {
		for _, p := range s.TreeProbs {
			writeProb(w, p)
		}
		w.WriteBool(s.TemporalUpdate)
		if s.TemporalUpdate {
			for _, p := range s.PredProbs {
				writeProb(w, p)
			}
		}
	}
	w.WriteBool(s.UpdateData)
	if !s.UpdateData {
		return
	}
	w.WriteBool(s.AbsDelta)
	for i := range 8 {
		for j := range 4 {
			w.WriteBool(s.Enabled[i][j])
			if !s.Enabled[i][j] {
				continue
			}
			v := s.Data[i][j]
			neg := v < 0
			if neg {
				v = -v
			}
			w.WriteBits(uint32(v), featureBits[j]) //nolint:gosec // test values
			if featureSigned[j] {
				w.WriteBool(neg)
			}
		}
	}
}

func (f *Frame) writeTileInfo(w *BitWriter, sb64Cols uint32) {
	var minLog2 uint8
	for (uint32(64) << minLog2) < sb64Cols {
		minLog2++
	}
	var maxLog2 uint8 = 1
	for (sb64Cols >> maxLog2) >= 4 {
		maxLog2++
	}
	maxLog2--

	cols := min(max(f.TileColsLog2, minLog2), maxLog2)
	for i := minLog2; i < cols; i++ {
		w.WriteBool(true)
	}
	if cols < maxLog2 {
		w.WriteBool(false)
	}
	w.WriteBool(f.TileRowsLog2 > 0)
	if f.TileRowsLog2 > 0 {
		w.WriteBool(f.TileRowsLog2 > 1)
	}
}

// Superframe packs frames behind a superframe index.
func Superframe(frames ...[]byte) []byte {
	largest := 0
	for _, f := range frames {
		largest = max(largest, len(f))
	}
	mag := 1
	for largest >= 1<<(8*mag) && mag < 4 {
		mag++
	}
	marker := byte(0xc0 | (mag-1)<<3 | (len(frames) - 1))

	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	out = append(out, marker)
	for _, f := range frames {
		for j := range mag {
			out = append(out, byte(len(f)>>(8*j)))
		}
	}
	return append(out, marker)
}
