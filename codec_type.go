package vdec

// CodecType represents the type of a codec.
type CodecType uint32

// avCodecTypeMagic is a magic number used to create unique codec types.
const avCodecTypeMagic = 233333

// makeVideoCodecType creates a video CodecType based on the provided base.
func makeVideoCodecType(base uint32) (c CodecType) {
	c = CodecType(base) << codecTypeOtherBits
	return
}

// variables representing specific codec types.
var (
	H264 = makeVideoCodecType(avCodecTypeMagic + 1) //nolint:mnd
	H265 = makeVideoCodecType(avCodecTypeMagic + 2) //nolint:mnd
	VP9  = makeVideoCodecType(avCodecTypeMagic + 5) //nolint:mnd
	AV1  = makeVideoCodecType(avCodecTypeMagic + 6) //nolint:mnd
)

// Bitwise flags for codec types.
const (
	codecTypeAudioBit  = 0x1
	codecTypeOtherBits = 1
)

// String returns the human-readable string representation of a CodecType.
func (ct CodecType) String() string {
	switch ct {
	case H264:
		return "H264"
	case H265:
		return "H265"
	case VP9:
		return "VP9"
	case AV1:
		return "AV1"
	}
	return "UNKNOWN"
}

// ParseCodecType maps a codec name as used in configuration files onto a CodecType.
func ParseCodecType(name string) (CodecType, bool) {
	switch name {
	case "h264", "H264", "avc", "AVC":
		return H264, true
	case "h265", "H265", "hevc", "HEVC":
		return H265, true
	case "vp9", "VP9":
		return VP9, true
	case "av1", "AV1":
		return AV1, true
	}
	return 0, false
}

// IsVideo returns true if the CodecType represents a video codec.
func (ct CodecType) IsVideo() bool {
	return ct != 0 && ct&codecTypeAudioBit == 0
}
