// Package reader pumps access units from a demuxer into a channel on its own goroutine. Live
// sources are reopened with a growing interval when reading fails.
package reader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/lifecycle"
	"github.com/ugparu/vdec/utils/logger"
)

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = time.Second * 8
	jumpSeconds          = 60
)

// Opener creates the demuxer for a source.
type Opener func(src string) (vdec.Demuxer, error)

type reader struct {
	lifecycle.AsyncManager[*reader]
	open        Opener
	src         string
	live        bool
	dmx         vdec.Demuxer
	info        vdec.StreamInfo
	packets     chan *vdec.AccessUnit
	offsets     offsetHandler
	minInterval time.Duration
	recInterval time.Duration
	name        string
}

// New creates a reader for a finite source. The end of the source is forwarded as an end of
// stream unit and any read error stops the reader.
func New(src string, chanSize int, open Opener) vdec.Reader {
	return newReader(src, chanSize, open, false)
}

// NewLive creates a reader for a source that is reopened after read errors. Timestamps keep
// increasing across reopens and the first unit after a gap carries FlagDiscontinuity.
func NewLive(src string, chanSize int, open Opener) vdec.Reader {
	return newReader(src, chanSize, open, true)
}

func newReader(src string, chanSize int, open Opener, live bool) *reader {
	rdr := &reader{
		open:        open,
		src:         src,
		live:        live,
		packets:     make(chan *vdec.AccessUnit, chanSize),
		minInterval: minReconnectInterval,
		recInterval: minReconnectInterval,
		name:        "READER " + src,
	}
	rdr.AsyncManager = lifecycle.NewAsyncManager(rdr)
	return rdr
}

// Read opens the source and starts the reading loop.
func (rdr *reader) Read() error {
	startFunc := func(rdr *reader) error {
		if rdr.open == nil {
			return fmt.Errorf("%w: no opener", vdec.ErrInvalidParameter)
		}
		dmx, info, err := rdr.openDemuxer()
		if err != nil {
			return err
		}
		rdr.dmx, rdr.info = dmx, info
		rdr.recInterval = rdr.minInterval
		rdr.offsets.jump = int64(info.TimeScale) * jumpSeconds
		logger.Infof(rdr, "Demuxer started. Codec: %s, time scale: %d", info.Codec, info.TimeScale)
		return nil
	}
	return rdr.Start(startFunc)
}

func (rdr *reader) openDemuxer() (vdec.Demuxer, vdec.StreamInfo, error) {
	dmx, err := rdr.open(rdr.src)
	if err != nil {
		return nil, vdec.StreamInfo{}, err
	}
	info, err := dmx.Demux()
	if err != nil {
		dmx.Close()
		return nil, vdec.StreamInfo{}, err
	}
	return dmx, info, nil
}

// Step reads one access unit and forwards it.
func (rdr *reader) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	default:
	}

	if rdr.dmx == nil {
		return rdr.reconnect(stopCh)
	}

	logger.Trace(rdr, "Trying to read new packet")
	au, err := rdr.dmx.ReadPacket()
	if err != nil {
		return rdr.handleReadError(err, stopCh)
	}
	if au == nil {
		return nil
	}
	if au.IsEndOfStream() {
		if err = rdr.send(au, stopCh); err != nil {
			return err
		}
		return &lifecycle.BreakError{}
	}
	if !rdr.offsets.apply(au) {
		logger.Debugf(rdr, "Dropping unit with pts %d behind %d", au.Pts, rdr.offsets.lastPts)
		return nil
	}
	return rdr.send(au, stopCh)
}

func (rdr *reader) send(au *vdec.AccessUnit, stopCh <-chan struct{}) error {
	select {
	case rdr.packets <- au:
		return nil
	case <-stopCh:
		return &lifecycle.BreakError{}
	}
}

// handleReadError ends a finite source and schedules a reopen of a live one.
func (rdr *reader) handleReadError(readErr error, stopCh <-chan struct{}) error {
	if !rdr.live {
		if errors.Is(readErr, io.EOF) {
			if err := rdr.send(&vdec.AccessUnit{Flags: vdec.FlagEndOfStream}, stopCh); err != nil {
				return err
			}
			return &lifecycle.BreakError{}
		}
		return fmt.Errorf("%s: %w", rdr.src, readErr)
	}

	if rdr.recInterval < maxReconnectInterval {
		logger.Warningf(rdr, "Packet read error: %s", readErr.Error())
		logger.Infof(rdr, "Restarting demuxer with %.fs interval", rdr.recInterval.Seconds())
	}
	rdr.closeDemuxer()
	return rdr.reconnect(stopCh)
}

// reconnect waits for the reconnect interval and reopens the source.
func (rdr *reader) reconnect(stopCh <-chan struct{}) error {
	select {
	case <-time.After(rdr.recInterval):
	case <-stopCh:
		return &lifecycle.BreakError{}
	}

	logger.Debug(rdr, "Creating new demuxer")
	dmx, info, err := rdr.openDemuxer()
	if err != nil {
		logger.Warningf(rdr, "Failed to start demuxer: %s", err.Error())
		rdr.recInterval = rdr.updateReconnectInterval(rdr.recInterval)
		return nil
	}
	if info.Codec != rdr.info.Codec {
		dmx.Close()
		return fmt.Errorf("%w: %s switched from %s to %s", vdec.ErrUnsupportedCodec, rdr.src, rdr.info.Codec, info.Codec)
	}

	logger.Infof(rdr, "Demuxer restarted")
	rdr.dmx = dmx
	rdr.offsets.recalcForGap()
	rdr.recInterval = rdr.minInterval
	return nil
}

// updateReconnectInterval doubles the interval up to the maximum.
func (rdr *reader) updateReconnectInterval(current time.Duration) time.Duration {
	if current >= maxReconnectInterval {
		return current
	}
	next := current * 2 //nolint:mnd
	if next >= maxReconnectInterval {
		next = maxReconnectInterval
		logger.Infof(rdr, "Max reconnect interval reached. Further attempts will be silent")
	}
	return next
}

func (rdr *reader) closeDemuxer() {
	if rdr.dmx != nil {
		logger.Debug(rdr, "Closing demuxer")
		rdr.dmx.Close()
		rdr.dmx = nil
	}
}

// Close_ closes the demuxer and the packets channel.
func (rdr *reader) Close_() { //nolint:revive
	logger.Infof(rdr, "Closing reader")
	rdr.closeDemuxer()
	close(rdr.packets)
}

func (rdr *reader) Info() vdec.StreamInfo {
	return rdr.info
}

// Packets returns the channel for receiving access units.
func (rdr *reader) Packets() <-chan *vdec.AccessUnit {
	return rdr.packets
}

func (rdr *reader) String() string {
	return rdr.name
}
