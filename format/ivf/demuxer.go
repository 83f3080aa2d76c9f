// Package ivf reads VP9 access units from IVF files.
package ivf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/logger"
)

const (
	fileHeaderSize  = 32
	frameHeaderSize = 12
	signature       = "DKIF"
	maxFrameSize    = 64 << 20
)

// ErrBadHeader is returned for files that are not IVF.
var ErrBadHeader = errors.New("ivf: bad file header")

// FileHeader is the IVF file header.
type FileHeader struct {
	Version     uint16
	FourCC      string
	Width       uint16
	Height      uint16
	TimebaseDen uint32
	TimebaseNum uint32
	NumFrames   uint32
}

// Demuxer reads IVF frames. Every frame becomes one access unit.
type Demuxer struct {
	r      io.Reader
	closer io.Closer
	url    string
	header FileHeader
	probed bool
	frames int
	hdr    [fileHeaderSize]byte
}

// NewDemuxer reads IVF data from r.
func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{r: r}
}

// Open opens an IVF file. The file is closed by Close.
func Open(url string) (*Demuxer, error) {
	f, err := os.Open(url)
	if err != nil {
		return nil, err
	}
	dmx := NewDemuxer(bufio.NewReader(f))
	dmx.closer = f
	dmx.url = url
	return dmx, nil
}

// Demux reads the file header.
func (dmx *Demuxer) Demux() (vdec.StreamInfo, error) {
	if err := dmx.probe(); err != nil {
		return vdec.StreamInfo{}, err
	}
	codec, ok := vdec.ParseCodecType(fourCCCodec(dmx.header.FourCC))
	if !ok {
		return vdec.StreamInfo{}, fmt.Errorf("%w: ivf fourcc %q", vdec.ErrUnsupportedCodec, dmx.header.FourCC)
	}
	return vdec.StreamInfo{
		Codec:     codec,
		Width:     uint(dmx.header.Width),
		Height:    uint(dmx.header.Height),
		TimeScale: dmx.header.TimebaseDen,
	}, nil
}

func fourCCCodec(fourcc string) string {
	switch fourcc {
	case "VP90":
		return "vp9"
	case "AV01":
		return "av1"
	case "H264", "avc1":
		return "h264"
	case "H265", "hvc1":
		return "h265"
	}
	return fourcc
}

func (dmx *Demuxer) probe() error {
	if dmx.probed {
		return nil
	}
	if _, err := io.ReadFull(dmx.r, dmx.hdr[:]); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	b := dmx.hdr[:]
	if string(b[0:4]) != signature {
		return fmt.Errorf("%w: signature %q", ErrBadHeader, b[0:4])
	}
	headerLen := binary.LittleEndian.Uint16(b[6:8])
	if headerLen < fileHeaderSize {
		return fmt.Errorf("%w: header length %d", ErrBadHeader, headerLen)
	}
	dmx.header = FileHeader{
		Version:     binary.LittleEndian.Uint16(b[4:6]),
		FourCC:      string(b[8:12]),
		Width:       binary.LittleEndian.Uint16(b[12:14]),
		Height:      binary.LittleEndian.Uint16(b[14:16]),
		TimebaseDen: binary.LittleEndian.Uint32(b[16:20]),
		TimebaseNum: binary.LittleEndian.Uint32(b[20:24]),
		NumFrames:   binary.LittleEndian.Uint32(b[24:28]),
	}
	if extra := int64(headerLen) - fileHeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, dmx.r, extra); err != nil {
			return fmt.Errorf("%w: %w", ErrBadHeader, err)
		}
	}
	dmx.probed = true
	logger.Debugf(dmx, "%s %dx%d timebase %d/%d frames %d", dmx.header.FourCC, dmx.header.Width,
		dmx.header.Height, dmx.header.TimebaseNum, dmx.header.TimebaseDen, dmx.header.NumFrames)
	return nil
}

// Header returns the file header. It is valid after Demux.
func (dmx *Demuxer) Header() FileHeader {
	return dmx.header
}

// ReadPacket reads the next frame. It returns io.EOF after the last one.
func (dmx *Demuxer) ReadPacket() (*vdec.AccessUnit, error) {
	if err := dmx.probe(); err != nil {
		return nil, err
	}
	var fh [frameHeaderSize]byte
	if _, err := io.ReadFull(dmx.r, fh[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("ivf: truncated frame header after %d frames: %w", dmx.frames, err)
		}
		return nil, err
	}
	size := binary.LittleEndian.Uint32(fh[0:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("ivf: frame %d of %d bytes is too big", dmx.frames, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(dmx.r, data); err != nil {
		return nil, fmt.Errorf("ivf: truncated frame %d: %w", dmx.frames, io.ErrUnexpectedEOF)
	}
	dmx.frames++
	return &vdec.AccessUnit{
		Data:  data,
		Pts:   int64(binary.LittleEndian.Uint64(fh[4:12])), //nolint:gosec // pts is signed in practice
		Flags: vdec.FlagTimestamp,
	}, nil
}

// Close closes the file opened by Open.
func (dmx *Demuxer) Close() {
	if dmx.closer != nil {
		if err := dmx.closer.Close(); err != nil {
			logger.Warningf(dmx, "Close: %v", err)
		}
		dmx.closer = nil
	}
}

func (dmx *Demuxer) String() string {
	return fmt.Sprintf("IVF_DEMUXER url=%s", dmx.url)
}
