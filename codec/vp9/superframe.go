package vp9

import (
	"github.com/ugparu/vdec"
)

const (
	superframeMarkerMask = 0xe0
	superframeMarker     = 0xc0
)

// SplitSuperframe splits a chunk into its frames. A chunk without a superframe index is a single
// frame. A chunk whose index is malformed is rejected as a whole.
func SplitSuperframe(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	marker := data[len(data)-1]
	if marker&superframeMarkerMask != superframeMarker {
		return [][]byte{data}, nil
	}

	frames := int(marker&0x7) + 1   //nolint:mnd
	mag := int((marker>>3)&0x3) + 1 //nolint:mnd
	indexSize := 2 + mag*frames
	if len(data) < indexSize {
		return nil, vdec.NewParseError("superframe index of %d bytes exceeds chunk of %d bytes", indexSize, len(data))
	}
	if data[len(data)-indexSize] != marker {
		return nil, vdec.NewParseError("superframe marker mismatch: %#02x vs %#02x", data[len(data)-indexSize], marker)
	}

	payload := data[:len(data)-indexSize]
	sizes := data[len(data)-indexSize+1:]
	out := make([][]byte, 0, frames)
	offset := 0
	for i := range frames {
		size := 0
		for j := range mag {
			size |= int(sizes[i*mag+j]) << (8 * j) //nolint:mnd
		}
		if size == 0 {
			continue
		}
		if offset+size > len(payload) {
			return nil, vdec.NewParseError("superframe frame %d of %d bytes overflows chunk", i, size)
		}
		out = append(out, payload[offset:offset+size])
		offset += size
	}
	return out, nil
}
