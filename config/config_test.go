package config

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/decoder"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vdec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
inputs: [a.ivf, b.ivf]
display_delay: 2
crop: 0,0,64,32
flush_mode: md5
md5: true
sessions: 4
log_level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"a.ivf", "b.ivf"}, cfg.Inputs)
	require.Equal(t, ContainerIVF, cfg.Container)
	require.Equal(t, 4, cfg.Sessions)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, logrus.DebugLevel, lvl)

	mode, err := cfg.Flush()
	require.NoError(t, err)
	require.Equal(t, decoder.FlushChecksum, mode)

	opts, err := cfg.DecoderOptions()
	require.NoError(t, err)
	require.Equal(t, vdec.VP9, opts.Codec)
	require.Equal(t, 2, opts.DisplayDelay)
	require.Equal(t, image.Rect(0, 0, 64, 32), opts.Crop)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "inputs: [\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "inputs: [a.ivf]\ncodec: mpeg2\n"))
	require.ErrorIs(t, err, vdec.ErrUnsupportedCodec)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no input", func(c *Config) { c.Inputs = nil }},
		{"container", func(c *Config) { c.Container = "mkv" }},
		{"delay", func(c *Config) { c.DisplayDelay = 17 }},
		{"crop", func(c *Config) { c.Crop = "1,2,3" }},
		{"flush mode", func(c *Config) { c.FlushMode = "zip" }},
		{"dump without output", func(c *Config) { c.FlushMode = "dump" }},
		{"md5 flush without md5", func(c *Config) { c.FlushMode = "md5" }},
		{"md5 check without md5", func(c *Config) { c.MD5Check = "x.md5" }},
		{"sessions", func(c *Config) { c.Sessions = 0 }},
		{"shared output", func(c *Config) { c.Sessions = 2; c.Output = "out.yuv" }},
		{"output for two inputs", func(c *Config) { c.Inputs = []string{"a", "b"}; c.Output = "out.yuv" }},
		{"max frames", func(c *Config) { c.MaxFrames = -1 }},
		{"sdp without rtp", func(c *Config) { c.SDP = "cam.sdp" }},
		{"live input without rtp", func(c *Config) { c.Inputs = []string{"tcp://127.0.0.1:8554"} }},
		{"packet queue", func(c *Config) { c.PacketQueue = -1 }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.Inputs = []string{"in.ivf"}
			require.NoError(t, cfg.Validate())
			tt.modify(cfg)
			require.ErrorIs(t, cfg.Validate(), vdec.ErrInvalidParameter)
		})
	}
}

func TestLiveInput(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Inputs = []string{"tcp://127.0.0.1:8554", "capture.rtp"}
	cfg.Container = ContainerRTP
	cfg.SDP = "cam.sdp"
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8, cfg.PacketQueue)

	require.True(t, IsLive(cfg.Inputs[0]))
	require.False(t, IsLive(cfg.Inputs[1]))
	addr, ok := LiveAddr(cfg.Inputs[0])
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:8554", addr)
}

func TestParseCrop(t *testing.T) {
	t.Parallel()

	r, err := ParseCrop("")
	require.NoError(t, err)
	require.True(t, r.Empty())

	r, err = ParseCrop(" 2, 4, 34, 20")
	require.NoError(t, err)
	require.Equal(t, image.Rect(2, 4, 34, 20), r)

	for _, bad := range []string{"a,b,c,d", "0,0,0,0", "10,0,2,8", "1,2,3,4,5"} {
		_, err = ParseCrop(bad)
		require.ErrorIs(t, err, vdec.ErrInvalidParameter, bad)
	}
}
