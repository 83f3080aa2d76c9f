package rtp

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pion/rtp/codecs"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/logger"
	"github.com/ugparu/vdec/utils/sdp"
)

const defaultClockRate = 90000

type vp9Demuxer struct {
	*baseDemuxer
	info         vdec.StreamInfo
	depacketizer codecs.VP9Packet
	frame        bytes.Buffer
	started      bool
	discont      bool
	timestamp    uint32
	pts          int64
	hasPts       bool
}

// NewVP9Demuxer returns a demuxer for the VP9 stream carried on the given interleaved channel.
func NewVP9Demuxer(rdr io.Reader, channel uint8) vdec.Demuxer {
	return &vp9Demuxer{
		baseDemuxer: newBaseDemuxer(rdr, channel),
		info:        vdec.StreamInfo{Codec: vdec.VP9, TimeScale: defaultClockRate},
	}
}

// NewVP9DemuxerForMedia returns a demuxer for the VP9 stream announced by media. Only packets of
// the announced payload type are used and timestamps count in its clock rate.
func NewVP9DemuxerForMedia(rdr io.Reader, channel uint8, media sdp.Media) (vdec.Demuxer, error) {
	if media.Codec != vdec.VP9 {
		return nil, fmt.Errorf("%w: media carries %s", vdec.ErrUnsupportedCodec, media.Codec)
	}
	d := &vp9Demuxer{
		baseDemuxer: newBaseDemuxer(rdr, channel),
		info: vdec.StreamInfo{
			Codec:     vdec.VP9,
			Width:     uint(max(media.Width, 0)),  //nolint:gosec // clamped
			Height:    uint(max(media.Height, 0)), //nolint:gosec // clamped
			TimeScale: media.ClockRate,
		},
	}
	d.pt = int(media.PayloadType)
	if d.info.TimeScale == 0 {
		d.info.TimeScale = defaultClockRate
	}
	return d, nil
}

func (d *vp9Demuxer) Demux() (vdec.StreamInfo, error) {
	return d.info, nil
}

// ReadPacket assembles the next complete VP9 frame. Frames with a missing packet are dropped and
// the next frame is flagged as a discontinuity.
func (d *vp9Demuxer) ReadPacket() (*vdec.AccessUnit, error) {
	for {
		if err := d.readRTP(); err != nil {
			return nil, err
		}
		if d.lost {
			d.lost = false
			d.dropFrame("packet loss")
		}

		payload, err := d.depacketizer.Unmarshal(d.packet.Payload)
		if err != nil {
			logger.Debugf(d, "Bad VP9 payload: %v", err)
			d.dropFrame("bad payload")
			continue
		}

		if d.depacketizer.B {
			if d.started {
				d.dropFrame("missing end of frame")
			}
			d.frame.Reset()
			d.started = true
			d.timestamp = d.packet.Timestamp
		}
		if !d.started {
			continue
		}
		d.frame.Write(payload)
		if !d.depacketizer.E {
			continue
		}

		d.started = false
		au := &vdec.AccessUnit{
			Data:  bytes.Clone(d.frame.Bytes()),
			Pts:   d.unwrap(d.timestamp),
			Flags: vdec.FlagTimestamp,
		}
		if d.discont {
			au.Flags |= vdec.FlagDiscontinuity
			d.discont = false
		}
		logger.Tracef(d, "Frame pts %d size %d", au.Pts, len(au.Data))
		return au, nil
	}
}

func (d *vp9Demuxer) dropFrame(reason string) {
	if d.started {
		logger.Debugf(d, "Dropping partial frame: %s", reason)
	}
	d.started = false
	d.frame.Reset()
	d.discont = true
}

// unwrap extends the 32 bit RTP timestamp across wrap arounds.
func (d *vp9Demuxer) unwrap(ts uint32) int64 {
	if !d.hasPts {
		d.hasPts = true
		d.pts = int64(ts)
		return d.pts
	}
	d.pts += int64(int32(ts - uint32(d.pts))) //nolint:gosec // wrap around is intended
	return d.pts
}

func (d *vp9Demuxer) String() string {
	return "RTP_VP9_DEMUXER"
}
