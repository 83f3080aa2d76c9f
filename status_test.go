package vdec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"invalid", fmt.Errorf("crop: %w", ErrInvalidParameter), StatusInvalidParameter},
		{"unsupported", ErrUnsupportedCodec, StatusUnsupportedCodec},
		{"not_implemented", fmt.Errorf("hevc: %w", ErrNotImplemented), StatusNotImplemented},
		{"capacity", ErrCapacity, StatusRuntimeError},
		{"parse", NewParseError("bad sync code"), StatusRuntimeError},
		{"foreign", errors.New("boom"), StatusRuntimeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestParseErrorClassification(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("frame 3: %w", NewParseError("invalid frame marker %d", 1))
	require.True(t, IsParseError(err))
	require.ErrorIs(t, err, ErrRuntime)
	require.Contains(t, err.Error(), "invalid frame marker 1")
	require.False(t, IsParseError(ErrCapacity))
	require.ErrorIs(t, ErrCapacity, ErrRuntime)
}

func TestCodecType(t *testing.T) {
	t.Parallel()

	ct, ok := ParseCodecType("vp9")
	require.True(t, ok)
	require.Equal(t, VP9, ct)
	require.Equal(t, "VP9", ct.String())
	require.True(t, ct.IsVideo())

	_, ok = ParseCodecType("mpeg2")
	require.False(t, ok)
	require.False(t, CodecType(0).IsVideo())
	require.Equal(t, "UNKNOWN", CodecType(7).String())
}

func TestSurfaceFormatFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, NV12, SurfaceFormatFor(Chroma420, 8))
	require.Equal(t, P016, SurfaceFormatFor(Chroma420, 10))
	require.Equal(t, YUV444P16, SurfaceFormatFor(Chroma444, 12))
	require.Equal(t, 2, P016.BytesPerSample())
	require.Equal(t, 2, NV12.NumPlanes())
	require.Equal(t, 3, YUV422.NumPlanes())
	require.Equal(t, Chroma422, ChromaFromSubsampling(true, false))
	require.Equal(t, Chroma444, ChromaFromSubsampling(false, false))
}
