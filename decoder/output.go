package decoder

import (
	"fmt"
	"image"
	"io"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/interop"
	"github.com/ugparu/vdec/utils/buffer"
)

// OutputFrame is a picture handed out in display order. The mapping stays valid until the next
// reconfiguration; the picture must be returned with ReleaseFrame.
type OutputFrame struct {
	PicIdx int
	Pts    int64
	Frame  *interop.VideoFrame
}

// OutputSurfaceInfo describes the part of a decoded surface that is written out.
type OutputSurfaceInfo struct {
	Rect           image.Rectangle // Output window inside the coded picture.
	Format         vdec.SurfaceFormat
	Chroma         vdec.ChromaFormat
	BytesPerSample int
	ChromaWidth    int // Samples per chroma row, interleaved CbCr counts both.
	ChromaHeight   int
	ChromaPlanes   int
}

func newOutputSurfaceInfo(rect image.Rectangle, format vdec.SurfaceFormat, chroma vdec.ChromaFormat) OutputSurfaceInfo {
	out := OutputSurfaceInfo{
		Rect:           rect,
		Format:         format,
		Chroma:         chroma,
		BytesPerSample: format.BytesPerSample(),
		ChromaPlanes:   format.NumPlanes() - 1,
	}
	w, h := rect.Dx(), rect.Dy()
	if out.ChromaPlanes == 1 {
		out.ChromaWidth = (w + 1) &^ 1
		out.ChromaHeight = (h + 1) / 2 //nolint:mnd
		return out
	}
	out.ChromaWidth = (w*chroma.WidthFactor() + 1) / 2   //nolint:mnd
	out.ChromaHeight = (h*chroma.HeightFactor() + 1) / 2 //nolint:mnd
	return out
}

// FrameSize returns the number of bytes WriteFrame produces for one picture.
func (o *OutputSurfaceInfo) FrameSize() int {
	luma := o.Rect.Dx() * o.Rect.Dy()
	chroma := o.ChromaWidth * o.ChromaHeight * o.ChromaPlanes
	return (luma + chroma) * o.BytesPerSample
}

type planeWindow struct {
	x, y, width, rows int
}

func (o *OutputSurfaceInfo) window(plane int) planeWindow {
	if plane == 0 {
		return planeWindow{x: o.Rect.Min.X, y: o.Rect.Min.Y, width: o.Rect.Dx(), rows: o.Rect.Dy()}
	}
	if o.ChromaPlanes == 1 {
		return planeWindow{x: o.Rect.Min.X &^ 1, y: o.Rect.Min.Y / 2, width: o.ChromaWidth, rows: o.ChromaHeight} //nolint:mnd
	}
	return planeWindow{
		x:     o.Rect.Min.X * o.Chroma.WidthFactor() / 2,  //nolint:mnd
		y:     o.Rect.Min.Y * o.Chroma.HeightFactor() / 2, //nolint:mnd
		width: o.ChromaWidth,
		rows:  o.ChromaHeight,
	}
}

// eachRow calls fn with every output row of vf, luma first.
func (o *OutputSurfaceInfo) eachRow(vf *interop.VideoFrame, fn func(row []byte) error) error {
	if vf == nil {
		return fmt.Errorf("%w: nil video frame", vdec.ErrInvalidParameter)
	}
	if vf.NumLayers < o.ChromaPlanes+1 {
		return fmt.Errorf("%w: surface has %d layers, output needs %d", vdec.ErrRuntime, vf.NumLayers, o.ChromaPlanes+1)
	}
	for p := range o.ChromaPlanes + 1 {
		mem, err := vf.Plane(p)
		if err != nil {
			return err
		}
		win := o.window(p)
		pitch := int(vf.Pitch[p])
		rowBytes := win.width * o.BytesPerSample
		for y := range win.rows {
			start := (win.y+y)*pitch + win.x*o.BytesPerSample
			end := start + rowBytes
			if end > len(mem) || rowBytes > pitch {
				return fmt.Errorf("%w: plane %d row %d outside the mapping", vdec.ErrRuntime, p, win.y+y)
			}
			if err = fn(mem[start:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFrame writes the output window of vf to w, plane after plane without padding.
func WriteFrame(w io.Writer, vf *interop.VideoFrame, out *OutputSurfaceInfo) error {
	return out.eachRow(vf, func(row []byte) error {
		_, err := w.Write(row)
		return err
	})
}

// CopyFrame copies the output window of vf into a pooled host buffer.
func CopyFrame(vf *interop.VideoFrame, out *OutputSurfaceInfo) (buffer.PooledBuffer, error) {
	buf := buffer.Get(out.FrameSize())
	data := buf.Data()
	n := 0
	err := out.eachRow(vf, func(row []byte) error {
		n += copy(data[n:], row)
		return nil
	})
	if err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}
