package vdec

// ChromaFormat represents the chroma subsampling of a picture.
type ChromaFormat uint8

// Chroma formats.
const (
	ChromaMonochrome = ChromaFormat(iota)
	Chroma420
	Chroma422
	Chroma444
	Chroma440
)

// ChromaFromSubsampling derives the chroma format from horizontal and vertical subsampling flags.
func ChromaFromSubsampling(ssx, ssy bool) ChromaFormat {
	switch {
	case ssx && ssy:
		return Chroma420
	case ssx:
		return Chroma422
	case ssy:
		return Chroma440
	}
	return Chroma444
}

// HeightFactor returns the chroma plane height as a fraction of the luma height, times two.
func (cf ChromaFormat) HeightFactor() int {
	switch cf {
	case Chroma420, Chroma440:
		return 1
	case ChromaMonochrome:
		return 0
	}
	return 2 //nolint:mnd
}

// WidthFactor returns the chroma plane width as a fraction of the luma width, times two.
func (cf ChromaFormat) WidthFactor() int {
	switch cf {
	case Chroma420, Chroma422:
		return 1
	case ChromaMonochrome:
		return 0
	}
	return 2 //nolint:mnd
}

// String returns the human-readable string representation of a ChromaFormat.
func (cf ChromaFormat) String() string {
	switch cf {
	case ChromaMonochrome:
		return "MONO"
	case Chroma420:
		return "420"
	case Chroma422:
		return "422"
	case Chroma444:
		return "444"
	case Chroma440:
		return "440"
	}
	return "UNKNOWN"
}
