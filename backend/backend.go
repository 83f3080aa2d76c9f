// Package backend defines the contract between the decoder session and a hardware decode engine.
// An engine owns the decode surfaces; pictures are addressed by surface index.
package backend

import (
	"fmt"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/parser"
)

// CreateInfo sizes the surfaces of a decode engine.
type CreateInfo struct {
	Codec             vdec.CodecType
	Width             uint32 // Surface width, at least the coded width of every picture.
	Height            uint32 // Surface height.
	BitDepth          int
	Chroma            vdec.ChromaFormat
	NumDecodeSurfaces int
}

// SurfaceFormat returns the memory layout of the surfaces.
func (ci *CreateInfo) SurfaceFormat() vdec.SurfaceFormat {
	return vdec.SurfaceFormatFor(ci.Chroma, ci.BitDepth)
}

// Validate checks the fields an engine relies on.
func (ci *CreateInfo) Validate() error {
	if ci == nil {
		return fmt.Errorf("%w: nil create info", vdec.ErrInvalidParameter)
	}
	if ci.NumDecodeSurfaces < 1 {
		return fmt.Errorf("%w: %d decode surfaces", vdec.ErrInvalidParameter, ci.NumDecodeSurfaces)
	}
	if ci.Width == 0 || ci.Height == 0 {
		return fmt.Errorf("%w: empty surface %dx%d", vdec.ErrInvalidParameter, ci.Width, ci.Height)
	}
	if ci.BitDepth != 8 && ci.BitDepth != 10 && ci.BitDepth != 12 {
		return fmt.Errorf("%w: %d bit samples", vdec.ErrNotImplemented, ci.BitDepth)
	}
	if ci.Chroma == vdec.ChromaMonochrome {
		return fmt.Errorf("%w: monochrome surfaces", vdec.ErrNotImplemented)
	}
	return nil
}

func (ci *CreateInfo) String() string {
	return fmt.Sprintf("%s %dx%d %dbit %s surfaces=%d",
		ci.Codec, ci.Width, ci.Height, ci.BitDepth, ci.Chroma, ci.NumDecodeSurfaces)
}

// Object is one exported memory object. The receiver owns Fd and must close it.
type Object struct {
	Fd   int
	Size uint32
}

// Layer locates one plane inside an exported object.
type Layer struct {
	Object int
	Offset uint32
	Pitch  uint32
}

// SurfaceDescriptor describes an exported surface.
type SurfaceDescriptor struct {
	Width   uint32
	Height  uint32
	Format  vdec.SurfaceFormat
	Objects []Object
	Layers  []Layer
}

// Decoder is a hardware decode engine.
type Decoder interface {
	Initialize(info *CreateInfo) error
	// SubmitDecode queues a picture. The bitstream is only valid during the call.
	SubmitDecode(params *parser.PicParams) error
	// GetDecodeStatus reports the state of a surface without blocking.
	GetDecodeStatus(picIdx int) (parser.DecodeStatus, error)
	// SyncSurface blocks until the last decode into the surface has finished.
	SyncSurface(picIdx int) error
	// ExportSurface hands out the memory of a surface as file descriptors.
	ExportSurface(picIdx int) (*SurfaceDescriptor, error)
	// Reconfigure resizes the surfaces. No surface may be mapped.
	Reconfigure(info *CreateInfo) error
	Close() error
}

// Factory creates an uninitialized engine.
type Factory func() Decoder
