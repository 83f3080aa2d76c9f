// Package parser holds the codec independent half of the bitstream parsers: the contract between a
// parser and its decoder client, the decode buffer pool and the display queue.
package parser

import (
	"fmt"
	"image"

	"github.com/ugparu/vdec"
)

// DecodeStatus is the completion state of a submitted picture.
type DecodeStatus uint8

// Decode states reported by the hardware.
const (
	DecodeStatusInvalid DecodeStatus = iota
	DecodeStatusInProgress
	DecodeStatusSuccess
	DecodeStatusError
)

// String returns the human-readable string representation of a DecodeStatus.
func (s DecodeStatus) String() string {
	switch s {
	case DecodeStatusInvalid:
		return "INVALID"
	case DecodeStatusInProgress:
		return "IN_PROGRESS"
	case DecodeStatusSuccess:
		return "SUCCESS"
	case DecodeStatusError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Done reports whether the hardware has finished with the picture.
func (s DecodeStatus) Done() bool {
	return s == DecodeStatusSuccess || s == DecodeStatusError
}

// VideoFormat describes a sequence. A new VideoFormat is announced whenever the coded
// geometry or the sample format changes.
type VideoFormat struct {
	Codec                vdec.CodecType
	CodedWidth           uint32
	CodedHeight          uint32
	DisplayArea          image.Rectangle
	BitDepth             int
	Chroma               vdec.ChromaFormat
	Profile              int
	MinNumDecodeSurfaces int
}

// SurfaceFormat returns the surface layout decoded pictures of this sequence use.
func (f *VideoFormat) SurfaceFormat() vdec.SurfaceFormat {
	return vdec.SurfaceFormatFor(f.Chroma, f.BitDepth)
}

func (f *VideoFormat) String() string {
	return fmt.Sprintf("%s %dx%d %dbit %s surfaces=%d",
		f.Codec, f.CodedWidth, f.CodedHeight, f.BitDepth, f.Chroma, f.MinNumDecodeSurfaces)
}

// CodecPicParams is the codec specific part of the picture parameters.
type CodecPicParams interface {
	CodecType() vdec.CodecType
	ReferenceSurfaces() []int // Decode surfaces the picture may predict from.
}

// PicParams is everything the hardware needs to decode one picture.
type PicParams struct {
	CurrPicIdx int    // Decode surface receiving the picture.
	Width      uint32 // Coded width of this picture.
	Height     uint32 // Coded height of this picture.
	IntraPic   bool   // The picture does not predict from other pictures.
	RefPic     bool   // The picture is kept as a reference.
	Pts        int64
	Bitstream  []byte // Compressed picture data. Valid only during the callback.
	Codec      CodecPicParams
}

// DispInfo announces a picture ready for display.
type DispInfo struct {
	PicIdx           int
	Pts              int64
	ProgressiveFrame bool
	TopFieldFirst    bool
}

// Client receives the parser callbacks. All callbacks run on the goroutine calling ParseVideoData.
type Client interface {
	// SequenceCallback announces a new sequence and returns the number of decode surfaces
	// allocated for it.
	SequenceCallback(format *VideoFormat) (int, error)
	// DecodePicture submits a picture to the hardware.
	DecodePicture(params *PicParams) error
	// DisplayPicture hands a picture over for display in output order.
	DisplayPicture(info *DispInfo) error
	// DecodeStatus polls the completion state of a surface without blocking.
	DecodeStatus(picIdx int) (DecodeStatus, error)
	// SyncPicture blocks until the hardware has finished with a surface.
	SyncPicture(picIdx int) error
}

// Params configures a parser.
type Params struct {
	Codec                vdec.CodecType
	MaxNumDecodeSurfaces int // Lower bound on the surface pool size, 0 lets the codec decide.
	MaxDisplayDelay      int // Pictures held back before display.
	Client               Client
}

// VideoParser is implemented by every codec parser.
type VideoParser interface {
	Initialize(params *Params) error
	ParseVideoData(au *vdec.AccessUnit) error
	MarkFrameForReuse(picIdx int) error
	UnInitialize() error
}
