package emulated

import (
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/backend"
)

const pitchAlignment = 256

func align(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}

type plane struct {
	widthSamples uint32 // luma or chroma samples per row, interleaved CbCr counts twice
	rows         uint32
}

// layout places the planes of a surface inside one memory object the way a VA driver lays out
// linear surfaces: 256 byte aligned pitches and planes stacked back to back.
type layout struct {
	format vdec.SurfaceFormat
	bps    uint32
	size   uint32
	layers []backend.Layer
}

func planesFor(format vdec.SurfaceFormat, chroma vdec.ChromaFormat, width, height uint32) []plane {
	height = align(height, 2)
	luma := plane{widthSamples: width, rows: height}
	if format.NumPlanes() == 2 { //nolint:mnd
		return []plane{luma, {widthSamples: align(width, 2), rows: height / 2}}
	}
	cw := (width*uint32(chroma.WidthFactor()) + 1) / 2   //nolint:gosec // factor is 1 or 2
	ch := (height*uint32(chroma.HeightFactor()) + 1) / 2 //nolint:gosec // factor is 1 or 2
	return []plane{luma, {widthSamples: cw, rows: ch}, {widthSamples: cw, rows: ch}}
}

func newLayout(info *backend.CreateInfo) layout {
	format := info.SurfaceFormat()
	l := layout{
		format: format,
		bps:    uint32(format.BytesPerSample()), //nolint:gosec // 1 or 2
	}
	for _, p := range planesFor(format, info.Chroma, info.Width, info.Height) {
		pitch := align(p.widthSamples*l.bps, pitchAlignment)
		l.layers = append(l.layers, backend.Layer{Object: 0, Offset: l.size, Pitch: pitch})
		l.size += pitch * p.rows
	}
	return l
}
