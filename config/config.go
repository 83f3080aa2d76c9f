// Package config holds the decoder harness configuration. Values come from a YAML file and may be
// overridden on the command line.
package config

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/decoder"
	"github.com/ugparu/vdec/parser"
	"gopkg.in/yaml.v3"
)

// Supported input containers.
const (
	ContainerIVF = "ivf"
	ContainerRTP = "rtp"
)

const (
	defaultPacketQueue = 8
	liveScheme         = "tcp://"
)

// Config is the complete harness configuration.
type Config struct {
	Inputs       []string `yaml:"inputs"`
	Container    string   `yaml:"container"`    // ivf or rtp
	RTPChannel   uint8    `yaml:"rtp_channel"`  // interleaved channel carrying video
	SDP          string   `yaml:"sdp"`          // session description selecting the VP9 payload type
	PacketQueue  int      `yaml:"packet_queue"` // access units buffered between reader and decoder
	Codec        string   `yaml:"codec"`
	DisplayDelay int      `yaml:"display_delay"`
	ZeroLatency  bool     `yaml:"zero_latency"`
	Crop         string   `yaml:"crop"`       // left,top,right,bottom
	FlushMode    string   `yaml:"flush_mode"` // none, dump or md5
	Output       string   `yaml:"output"`
	MD5          bool     `yaml:"md5"`
	MD5Check     string   `yaml:"md5_check"` // file holding the expected digest
	Sessions     int      `yaml:"sessions"`  // parallel decode sessions per input
	MaxFrames    int      `yaml:"max_frames"`
	PprofAddr    string   `yaml:"pprof_addr"`
	LogLevel     string   `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Container:    ContainerIVF,
		Codec:        "vp9",
		DisplayDelay: 1,
		FlushMode:    "none",
		Sessions:     1,
		PacketQueue:  defaultPacketQueue,
		LogLevel:     "info",
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: no input", vdec.ErrInvalidParameter)
	}
	if c.Container != ContainerIVF && c.Container != ContainerRTP {
		return fmt.Errorf("%w: container %q", vdec.ErrInvalidParameter, c.Container)
	}
	if _, err := c.CodecType(); err != nil {
		return err
	}
	if c.SDP != "" && c.Container != ContainerRTP {
		return fmt.Errorf("%w: sdp needs the rtp container", vdec.ErrInvalidParameter)
	}
	for _, input := range c.Inputs {
		if IsLive(input) && c.Container != ContainerRTP {
			return fmt.Errorf("%w: live input %s needs the rtp container", vdec.ErrInvalidParameter, input)
		}
	}
	if c.PacketQueue < 0 {
		return fmt.Errorf("%w: packet queue %d", vdec.ErrInvalidParameter, c.PacketQueue)
	}
	if c.DisplayDelay < 0 || c.DisplayDelay > parser.MaxDisplayDelay {
		return fmt.Errorf("%w: display delay %d outside [0, %d]", vdec.ErrInvalidParameter, c.DisplayDelay, parser.MaxDisplayDelay)
	}
	if _, err := c.CropRect(); err != nil {
		return err
	}
	mode, err := c.Flush()
	if err != nil {
		return err
	}
	if mode == decoder.FlushDumpToFile && c.Output == "" {
		return fmt.Errorf("%w: dump flush needs an output file", vdec.ErrInvalidParameter)
	}
	if mode == decoder.FlushChecksum && !c.MD5 {
		return fmt.Errorf("%w: md5 flush needs md5 output", vdec.ErrInvalidParameter)
	}
	if c.MD5Check != "" && !c.MD5 {
		return fmt.Errorf("%w: md5 check needs md5 output", vdec.ErrInvalidParameter)
	}
	if c.Sessions < 1 {
		return fmt.Errorf("%w: %d sessions", vdec.ErrInvalidParameter, c.Sessions)
	}
	if c.Output != "" && (c.Sessions > 1 || len(c.Inputs) > 1) {
		return fmt.Errorf("%w: parallel sessions can not share an output file", vdec.ErrInvalidParameter)
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("%w: max frames %d", vdec.ErrInvalidParameter, c.MaxFrames)
	}
	if _, err = c.Level(); err != nil {
		return err
	}
	return nil
}

// IsLive reports whether input names a network source rather than a file.
func IsLive(input string) bool {
	return strings.HasPrefix(input, liveScheme)
}

// LiveAddr returns the host:port of a live input.
func LiveAddr(input string) (string, bool) {
	return strings.CutPrefix(input, liveScheme)
}

// CodecType returns the configured codec.
func (c *Config) CodecType() (vdec.CodecType, error) {
	codec, ok := vdec.ParseCodecType(c.Codec)
	if !ok {
		return 0, fmt.Errorf("%w: codec %q", vdec.ErrUnsupportedCodec, c.Codec)
	}
	return codec, nil
}

// CropRect parses Crop. An empty string means no crop.
func (c *Config) CropRect() (image.Rectangle, error) {
	return ParseCrop(c.Crop)
}

// ParseCrop parses "left,top,right,bottom".
func ParseCrop(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 { //nolint:mnd
		return image.Rectangle{}, fmt.Errorf("%w: crop %q is not left,top,right,bottom", vdec.ErrInvalidParameter, s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("%w: crop %q: %w", vdec.ErrInvalidParameter, s, err)
		}
		v[i] = n
	}
	r := image.Rect(v[0], v[1], v[2], v[3])
	if r.Empty() || r.Min.X != v[0] || r.Min.Y != v[1] {
		return image.Rectangle{}, fmt.Errorf("%w: crop %q is empty or inverted", vdec.ErrInvalidParameter, s)
	}
	return r, nil
}

// Flush returns the flush mode.
func (c *Config) Flush() (decoder.FlushMode, error) {
	mode, ok := decoder.ParseFlushMode(c.FlushMode)
	if !ok {
		return decoder.FlushNone, fmt.Errorf("%w: flush mode %q", vdec.ErrInvalidParameter, c.FlushMode)
	}
	return mode, nil
}

// Level returns the logrus level.
func (c *Config) Level() (logrus.Level, error) {
	if c.LogLevel == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("%w: %w", vdec.ErrInvalidParameter, err)
	}
	return lvl, nil
}

// DecoderOptions maps the configuration onto decoder options. The flush strategy is left to the
// caller because it needs the output writers.
func (c *Config) DecoderOptions() (decoder.Options, error) {
	codec, err := c.CodecType()
	if err != nil {
		return decoder.Options{}, err
	}
	crop, err := c.CropRect()
	if err != nil {
		return decoder.Options{}, err
	}
	return decoder.Options{
		Codec:        codec,
		DisplayDelay: c.DisplayDelay,
		ZeroLatency:  c.ZeroLatency,
		Crop:         crop,
	}, nil
}
