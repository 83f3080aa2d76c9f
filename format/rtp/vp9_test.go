package rtp

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/codec/vp9/vp9test"
	"github.com/ugparu/vdec/utils/sdp"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

type streamWriter struct {
	buf       bytes.Buffer
	payloader codecs.VP9Payloader
	seq       uint16
	pt        uint8
}

func newStreamWriter() *streamWriter {
	return &streamWriter{
		payloader: codecs.VP9Payloader{
			FlexibleMode:       true,
			InitialPictureIDFn: func() uint16 { return 1 },
		},
		seq: 100,
		pt:  98,
	}
}

func (w *streamWriter) interleave(channel uint8, pkt []byte) {
	var hdr [headerSize]byte
	hdr[0] = interleavedMagic
	hdr[1] = channel
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(pkt))) //nolint:gosec // test packets are small
	w.buf.Write(hdr[:])
	w.buf.Write(pkt)
}

// frame packetizes data with the given mtu. skip drops the packet with that index.
func (w *streamWriter) frame(t *testing.T, data []byte, ts uint32, mtu uint16, skip int) int {
	t.Helper()
	payloads := w.payloader.Payload(mtu, data)
	require.NotEmpty(t, payloads)
	for i, payload := range payloads {
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    w.pt,
				SequenceNumber: w.seq,
				Timestamp:      ts,
				SSRC:           0x1234,
			},
			Payload: payload,
		}
		w.seq++
		if i == skip {
			continue
		}
		raw, err := pkt.Marshal()
		require.NoError(t, err)
		w.interleave(0, raw)
	}
	return len(payloads)
}

func (w *streamWriter) rtcp() {
	sr := make([]byte, 28)
	sr[0] = 0x80
	sr[1] = 200
	binary.BigEndian.PutUint16(sr[2:], 6)
	w.interleave(1, sr)
	w.interleave(0, sr)
}

func keyFrame(payload int) []byte {
	f := vp9test.KeyFrame(64, 64)
	f.PayloadSize = payload
	return f.Bytes()
}

func TestVP9Demuxer(t *testing.T) {
	t.Parallel()

	w := newStreamWriter()
	small := keyFrame(16)
	large := keyFrame(3000)
	require.Equal(t, 1, w.frame(t, small, 1000, 1200, -1))
	w.rtcp()
	require.Greater(t, w.frame(t, large, 4000, 1200, -1), 2)
	inter := vp9test.InterFrame(0x01).Bytes()
	w.frame(t, inter, 7000, 1200, -1)

	dmx := NewVP9Demuxer(&w.buf, 0)
	defer dmx.Close()
	info, err := dmx.Demux()
	require.NoError(t, err)
	require.Equal(t, vdec.VP9, info.Codec)
	require.Equal(t, uint32(defaultClockRate), info.TimeScale)

	want := []struct {
		data []byte
		pts  int64
	}{{small, 1000}, {large, 4000}, {inter, 7000}}
	for _, wnt := range want {
		au, err := dmx.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, wnt.data, au.Data)
		require.Equal(t, wnt.pts, au.Pts)
		require.Equal(t, vdec.FlagTimestamp, au.Flags)
	}
	_, err = dmx.ReadPacket()
	require.ErrorIs(t, err, io.EOF)
}

func TestVP9DemuxerPacketLoss(t *testing.T) {
	t.Parallel()

	w := newStreamWriter()
	first := keyFrame(3000)
	second := keyFrame(100)
	w.frame(t, first, 0, 1000, 1)
	w.frame(t, second, 3000, 1000, -1)

	dmx := NewVP9Demuxer(&w.buf, 0)
	defer dmx.Close()
	au, err := dmx.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, second, au.Data)
	require.Equal(t, int64(3000), au.Pts)
	require.NotZero(t, au.Flags&vdec.FlagDiscontinuity)
}

func TestVP9DemuxerTimestampWrap(t *testing.T) {
	t.Parallel()

	w := newStreamWriter()
	w.frame(t, keyFrame(16), 0xffffff00, 1200, -1)
	w.frame(t, keyFrame(16), 0x00000100, 1200, -1)

	dmx := NewVP9Demuxer(&w.buf, 0)
	defer dmx.Close()
	au, err := dmx.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, int64(0xffffff00), au.Pts)
	au, err = dmx.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, int64(0x100000100), au.Pts)
}

func TestVP9DemuxerBadFraming(t *testing.T) {
	t.Parallel()

	dmx := NewVP9Demuxer(bytes.NewReader([]byte{'#', 0, 0, 20}), 0)
	_, err := dmx.ReadPacket()
	require.Error(t, err)

	dmx = NewVP9Demuxer(bytes.NewReader([]byte{'$', 0, 0, 4, 1, 2, 3, 4}), 0)
	_, err = dmx.ReadPacket()
	require.Error(t, err)

	dmx = NewVP9Demuxer(bytes.NewReader([]byte{'$', 0, 0, 20, 0x80}), 0)
	_, err = dmx.ReadPacket()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestVP9DemuxerForMedia(t *testing.T) {
	t.Parallel()

	body := sdp.Generate(sdp.Session{}, []sdp.Media{
		{Codec: vdec.AV1, PayloadType: 100},
		{Codec: vdec.VP9, PayloadType: 98, ClockRate: 48000, Width: 64, Height: 64},
	})
	_, medias := sdp.Parse(body)
	media, ok := sdp.Find(medias, vdec.VP9)
	require.True(t, ok)

	w := newStreamWriter()
	first := keyFrame(16)
	w.frame(t, first, 10, 1200, -1)
	foreign := rtp.Packet{
		Header:  rtp.Header{Version: 2, Marker: true, PayloadType: 100, SequenceNumber: 7, Timestamp: 99},
		Payload: []byte{0xff, 0xff},
	}
	raw, err := foreign.Marshal()
	require.NoError(t, err)
	w.interleave(0, raw)
	second := keyFrame(32)
	w.frame(t, second, 20, 1200, -1)

	dmx, err := NewVP9DemuxerForMedia(&w.buf, 0, media)
	require.NoError(t, err)
	defer dmx.Close()
	info, err := dmx.Demux()
	require.NoError(t, err)
	require.Equal(t, vdec.StreamInfo{Codec: vdec.VP9, Width: 64, Height: 64, TimeScale: 48000}, info)

	for _, want := range [][]byte{first, second} {
		au, err := dmx.ReadPacket()
		require.NoError(t, err)
		require.Equal(t, want, au.Data)
		require.Zero(t, au.Flags&vdec.FlagDiscontinuity)
	}

	av1, ok := sdp.Find(medias, vdec.AV1)
	require.True(t, ok)
	_, err = NewVP9DemuxerForMedia(&w.buf, 0, av1)
	require.ErrorIs(t, err, vdec.ErrUnsupportedCodec)
}
