package vdec

// SurfaceFormat represents the memory layout of a decode surface.
type SurfaceFormat uint8

// Constants representing the supported surface layouts.
const (
	NV12      = SurfaceFormat(iota + 1) // 8-bit luma plane followed by an interleaved CbCr plane
	P016                                // 16-bit container version of NV12 for 10/12-bit content
	YUV444                              // 8-bit, three full resolution planes
	YUV444P16                           // 16-bit container version of YUV444
	YUV422                              // 8-bit, three planes, chroma subsampled horizontally
	YUV440                              // 8-bit, three planes, chroma subsampled vertically
)

// SurfaceFormatFor picks the surface layout for a chroma format and bit depth.
func SurfaceFormatFor(cf ChromaFormat, bitDepth int) SurfaceFormat {
	const highBitDepth = 8
	switch cf {
	case Chroma444:
		if bitDepth > highBitDepth {
			return YUV444P16
		}
		return YUV444
	case Chroma422:
		return YUV422
	case Chroma440:
		return YUV440
	}
	if bitDepth > highBitDepth {
		return P016
	}
	return NV12
}

// BytesPerSample returns the number of bytes per component sample.
func (sf SurfaceFormat) BytesPerSample() int {
	switch sf {
	case P016, YUV444P16:
		return 2 //nolint:mnd
	case NV12, YUV444, YUV422, YUV440:
		return 1
	default:
		return 0
	}
}

// NumPlanes returns the number of memory planes in the layout.
func (sf SurfaceFormat) NumPlanes() int {
	switch sf {
	case NV12, P016:
		return 2 //nolint:mnd
	case YUV444, YUV444P16, YUV422, YUV440:
		return 3 //nolint:mnd
	default:
		return 0
	}
}

// String returns a human-readable string representation of the surface format.
func (sf SurfaceFormat) String() string {
	switch sf {
	case NV12:
		return "NV12"
	case P016:
		return "P016"
	case YUV444:
		return "YUV444"
	case YUV444P16:
		return "YUV444P16"
	case YUV422:
		return "YUV422"
	case YUV440:
		return "YUV440"
	default:
		return "UNKNOWN"
	}
}
