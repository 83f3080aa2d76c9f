package ivf

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/codec/vp9/vp9test"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

func TestDemuxer(t *testing.T) {
	t.Parallel()

	frames := [][]byte{
		vp9test.KeyFrame(64, 48).Bytes(),
		vp9test.InterFrame(0x01).Bytes(),
		vp9test.Superframe(vp9test.IntraOnlyFrame(64, 48, 0x02).Bytes(), vp9test.InterFrame(0x04).Bytes()),
	}
	dmx := NewDemuxer(bytes.NewReader(vp9test.IVF(64, 48, frames...)))
	defer dmx.Close()

	info, err := dmx.Demux()
	require.NoError(t, err)
	require.Equal(t, vdec.StreamInfo{Codec: vdec.VP9, Width: 64, Height: 48, TimeScale: 30}, info)
	require.Equal(t, "VP90", dmx.Header().FourCC)
	require.Equal(t, uint32(3), dmx.Header().NumFrames)

	for i, want := range frames {
		au, err := dmx.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, want, au.Data)
		require.Equal(t, int64(i), au.Pts)
		require.Equal(t, vdec.FlagTimestamp, au.Flags)
	}
	_, err = dmx.ReadPacket()
	require.ErrorIs(t, err, io.EOF)
}

func TestDemuxerErrors(t *testing.T) {
	t.Parallel()

	_, err := NewDemuxer(bytes.NewReader([]byte("DKIF"))).Demux()
	require.ErrorIs(t, err, ErrBadHeader)

	bad := vp9test.IVF(16, 16)
	copy(bad, "RIFF")
	_, err = NewDemuxer(bytes.NewReader(bad)).Demux()
	require.ErrorIs(t, err, ErrBadHeader)

	av1 := vp9test.IVF(16, 16)
	copy(av1[8:], "XVID")
	_, err = NewDemuxer(bytes.NewReader(av1)).Demux()
	require.ErrorIs(t, err, vdec.ErrUnsupportedCodec)

	truncated := vp9test.IVF(16, 16, vp9test.KeyFrame(16, 16).Bytes())
	truncated = truncated[:len(truncated)-3]
	dmx := NewDemuxer(bytes.NewReader(truncated))
	_, err = dmx.ReadPacket()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	header := vp9test.IVF(16, 16, vp9test.KeyFrame(16, 16).Bytes())[:36]
	dmx = NewDemuxer(bytes.NewReader(header))
	_, err = dmx.ReadPacket()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing.ivf"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "stream.ivf")
	key := vp9test.KeyFrame(32, 32).Bytes()
	require.NoError(t, os.WriteFile(path, vp9test.IVF(32, 32, key), 0o600))

	dmx, err := Open(path)
	require.NoError(t, err)
	defer dmx.Close()
	au, err := dmx.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, key, au.Data)
}
