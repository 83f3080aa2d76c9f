// Package rtp reads VP9 access units from RTP packets interleaved on a byte stream the way RTSP
// carries them: a '$' marker, a channel byte, a 16 bit length and the packet.
package rtp

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/ugparu/vdec/utils/buffer"
	"github.com/ugparu/vdec/utils/logger"
)

const (
	headerSize       = 4
	interleavedMagic = '$'
	rtpHeaderSize    = 12
	rtcpFirstType    = 200
	rtcpLastType     = 204
	maxPacketSize    = 65535
)

type baseDemuxer struct {
	rdr     io.Reader
	header  [headerSize]byte
	payload buffer.PooledBuffer
	channel uint8
	pt      int // accepted payload type, -1 for any
	packet  rtp.Packet
	lastSeq uint16
	hasSeq  bool
	lost    bool
}

func newBaseDemuxer(rdr io.Reader, channel uint8) *baseDemuxer {
	return &baseDemuxer{
		rdr:     rdr,
		payload: buffer.Get(rtpHeaderSize),
		channel: channel,
		pt:      -1,
	}
}

// readRTP reads interleaved packets until one of the demuxer channel carries RTP. Packets of other
// channels, RTCP and RTP of other payload types are skipped. A gap in sequence numbers sets lost.
func (d *baseDemuxer) readRTP() error {
	for {
		if _, err := io.ReadFull(d.rdr, d.header[:]); err != nil {
			return err
		}
		if d.header[0] != interleavedMagic {
			return fmt.Errorf("rtp: bad interleaved marker 0x%02x", d.header[0])
		}

		length := int(binary.BigEndian.Uint16(d.header[2:]))
		if length < rtpHeaderSize || length > maxPacketSize {
			return fmt.Errorf("rtp: incorrect packet size %d", length)
		}
		d.payload.Resize(length)
		if _, err := io.ReadFull(d.rdr, d.payload.Data()); err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		if d.header[1] != d.channel || d.isRTCPPacket() {
			logger.Tracef(d, "Skipping %d bytes on channel %d", length, d.header[1])
			continue
		}
		if err := d.packet.Unmarshal(d.payload.Data()); err != nil {
			return fmt.Errorf("rtp: %w", err)
		}
		if d.pt >= 0 && int(d.packet.PayloadType) != d.pt {
			logger.Tracef(d, "Skipping payload type %d", d.packet.PayloadType)
			continue
		}

		if d.hasSeq && d.packet.SequenceNumber != d.lastSeq+1 {
			logger.Debugf(d, "Sequence gap %d -> %d", d.lastSeq, d.packet.SequenceNumber)
			d.lost = true
		}
		d.lastSeq = d.packet.SequenceNumber
		d.hasSeq = true
		return nil
	}
}

func (d *baseDemuxer) isRTCPPacket() bool {
	rtcpPacketType := d.payload.Data()[1]
	return rtcpPacketType >= rtcpFirstType && rtcpPacketType <= rtcpLastType
}

func (d *baseDemuxer) Close() {
	if d.payload != nil {
		d.payload.Release()
		d.payload = nil
	}
}

func (d *baseDemuxer) String() string {
	return fmt.Sprintf("RTP_DEMUXER channel=%d", d.channel)
}
