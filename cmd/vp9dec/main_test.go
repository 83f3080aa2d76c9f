package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/codec/vp9/vp9test"
	"github.com/ugparu/vdec/config"
	"github.com/ugparu/vdec/utils/sdp"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

func streamFrames() [][]byte {
	frames := make([][]byte, 0, 8)
	for i := range 4 {
		f := vp9test.KeyFrame(64, 48)
		f.BaseQIdx = uint8(30 + i) //nolint:gosec // small
		frames = append(frames, f.Bytes())
	}
	frames = append(frames, vp9test.InterFrame(0x01).Bytes(), vp9test.KeyFrame(96, 64).Bytes(),
		vp9test.InterFrame(0x02).Bytes())
	return frames
}

func writeStream(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "stream.ivf")
	require.NoError(t, os.WriteFile(path, vp9test.IVF(64, 48, streamFrames()...), 0o600))
	return path
}

// rtpStream packetizes the frames as interleaved RTP on channel 0 with payload type 98.
func rtpStream(t *testing.T) []byte {
	t.Helper()
	payloader := codecs.VP9Payloader{FlexibleMode: true, InitialPictureIDFn: func() uint16 { return 1 }}
	var buf bytes.Buffer
	var seq uint16
	for i, frame := range streamFrames() {
		payloads := payloader.Payload(200, frame)
		for j, payload := range payloads {
			pkt := rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         j == len(payloads)-1,
					PayloadType:    98,
					SequenceNumber: seq,
					Timestamp:      uint32(i * 3000), //nolint:gosec // small
					SSRC:           1,
				},
				Payload: payload,
			}
			seq++
			raw, err := pkt.Marshal()
			require.NoError(t, err)
			buf.Write([]byte{'$', 0, byte(len(raw) >> 8), byte(len(raw))})
			buf.Write(raw)
		}
	}
	return buf.Bytes()
}

func writeRTP(t *testing.T, dir string) (string, string) {
	t.Helper()
	path := filepath.Join(dir, "stream.rtp")
	require.NoError(t, os.WriteFile(path, rtpStream(t), 0o600))
	sdpPath := filepath.Join(dir, "stream.sdp")
	body := sdp.Generate(sdp.Session{}, []sdp.Media{{Codec: vdec.VP9, PayloadType: 98}})
	require.NoError(t, os.WriteFile(sdpPath, []byte(body), 0o600))
	return path, sdpPath
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "vdec.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("inputs: [a.ivf]\ndisplay_delay: 3\nsessions: 2\n"), 0o600))

	cfg, err := parseFlags([]string{"-config", cfgPath, "-disp_delay", "0", "-md5", "-crop", "0,0,32,32"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.ivf"}, cfg.Inputs)
	require.Equal(t, 0, cfg.DisplayDelay)
	require.Equal(t, 2, cfg.Sessions)
	require.True(t, cfg.MD5)
	require.Equal(t, "0,0,32,32", cfg.Crop)

	cfg, err = parseFlags([]string{"-z", "x.ivf", "y.ivf"})
	require.NoError(t, err)
	require.Equal(t, []string{"x.ivf", "y.ivf"}, cfg.Inputs)
	require.True(t, cfg.ZeroLatency)
	require.Equal(t, 1, cfg.DisplayDelay)

	_, err = parseFlags(nil)
	require.ErrorIs(t, err, vdec.ErrInvalidParameter)
	_, err = parseFlags([]string{"-crop", "1,1,4,4", "a.ivf"})
	require.NoError(t, err)
	_, err = parseFlags([]string{"-f", "mkv", "a.ivf"})
	require.ErrorIs(t, err, vdec.ErrInvalidParameter)
	cfg, err = parseFlags([]string{"-f", "rtp", "-sdp", "cam.sdp", "-q", "2", "tcp://127.0.0.1:8554"})
	require.NoError(t, err)
	require.Equal(t, "cam.sdp", cfg.SDP)
	require.Equal(t, 2, cfg.PacketQueue)
	_, err = parseFlags([]string{"-nope"})
	require.Error(t, err)
}

func TestHarnessMD5(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Inputs = []string{writeStream(t, dir)}
	cfg.MD5 = true
	cfg.FlushMode = "md5"
	cfg.Sessions = 3
	require.NoError(t, cfg.Validate())

	var report bytes.Buffer
	require.NoError(t, newHarness(cfg).run(context.Background(), &report))
	lines := strings.Split(strings.TrimSpace(report.String()), "\n")
	require.Len(t, lines, 4)

	digest := lines[0][strings.LastIndex(lines[0], " ")+1:]
	require.Len(t, digest, 32)
	for _, l := range lines[:3] {
		require.Contains(t, l, "7 decoded, 6 output, 1 flushed md5 "+digest)
	}

	cfg.MD5Check = filepath.Join(dir, "want.md5")
	require.NoError(t, os.WriteFile(cfg.MD5Check, []byte(digest+"  stream.ivf\n"), 0o600))
	require.NoError(t, newHarness(cfg).run(context.Background(), &bytes.Buffer{}))

	require.NoError(t, os.WriteFile(cfg.MD5Check, []byte("00000000000000000000000000000000\n"), 0o600))
	require.ErrorIs(t, newHarness(cfg).run(context.Background(), &bytes.Buffer{}), ErrChecksumMismatch)
}

func TestHarnessDump(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Inputs = []string{writeStream(t, dir)}
	cfg.Output = filepath.Join(dir, "out.yuv")
	cfg.FlushMode = "dump"
	cfg.MaxFrames = 2
	require.NoError(t, cfg.Validate())

	require.NoError(t, newHarness(cfg).run(context.Background(), &bytes.Buffer{}))
	data, err := os.ReadFile(cfg.Output)
	require.NoError(t, err)
	require.Len(t, data, 2*64*48*3/2)
}

func TestHarnessRTPMatchesIVF(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	digest := func(cfg *config.Config) string {
		cfg.MD5 = true
		cfg.FlushMode = "md5"
		require.NoError(t, cfg.Validate())
		var report bytes.Buffer
		require.NoError(t, newHarness(cfg).run(context.Background(), &report))
		line := strings.Split(report.String(), "\n")[0]
		require.Contains(t, line, "7 decoded, 6 output, 1 flushed md5 ")
		return line[strings.LastIndex(line, " ")+1:]
	}

	ivfCfg := config.Default()
	ivfCfg.Inputs = []string{writeStream(t, dir)}

	rtpPath, sdpPath := writeRTP(t, dir)
	rtpCfg := config.Default()
	rtpCfg.Inputs = []string{rtpPath}
	rtpCfg.Container = config.ContainerRTP
	rtpCfg.SDP = sdpPath
	rtpCfg.PacketQueue = 0

	require.Equal(t, digest(ivfCfg), digest(rtpCfg))

	rtpCfg.SDP = filepath.Join(dir, "empty.sdp")
	require.NoError(t, os.WriteFile(rtpCfg.SDP, []byte("v=0\r\n"), 0o600))
	require.ErrorIs(t, newHarness(rtpCfg).run(context.Background(), &bytes.Buffer{}), vdec.ErrInvalidParameter)
}

func TestHarnessLive(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	stream := rtpStream(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write(stream)
			_ = conn.Close()
		}
	}()

	cfg := config.Default()
	cfg.Inputs = []string{"tcp://" + ln.Addr().String()}
	cfg.Container = config.ContainerRTP
	cfg.MaxFrames = 4
	require.NoError(t, cfg.Validate())

	var report bytes.Buffer
	require.NoError(t, newHarness(cfg).run(context.Background(), &report))
	require.Contains(t, report.String(), "5 decoded, 4 output, 0 flushed")
}

func TestHarnessMissingInput(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Inputs = []string{filepath.Join(t.TempDir(), "missing.ivf")}
	require.Error(t, newHarness(cfg).run(context.Background(), &bytes.Buffer{}))
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Inputs = []string{"a.ivf"}
	cfg.Sessions = 2
	h := newHarness(cfg)
	h.stats[1].output.Store(5)

	rec := httptest.NewRecorder()
	h.server(":0").Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"output":5`)
	require.Contains(t, rec.Body.String(), `"session":1`)
}
