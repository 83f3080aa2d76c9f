package vdec

import (
	"github.com/ugparu/vdec/utils/buffer"
)

// PacketFlags carries per access unit signalling from the demuxer.
type PacketFlags uint32

// Access unit flags.
const (
	FlagEndOfStream   PacketFlags = 1 << iota // Last unit of the stream. Pending pictures are flushed.
	FlagTimestamp                             // Pts carries a valid presentation timestamp.
	FlagDiscontinuity                         // A discontinuity precedes this unit.
)

// AccessUnit is one compressed unit handed to the decoder. For VP9 it is a frame or a superframe.
type AccessUnit struct {
	Data  []byte      // Compressed bytes. Empty together with FlagEndOfStream signals end of stream.
	Pts   int64       // Presentation timestamp in stream time base.
	Flags PacketFlags // Signalling flags.
}

// IsEndOfStream reports whether the unit terminates the stream.
func (au *AccessUnit) IsEndOfStream() bool {
	return au.Flags&FlagEndOfStream != 0
}

// StreamInfo describes the elementary stream found by a demuxer.
type StreamInfo struct {
	Codec     CodecType // Codec of the elementary stream.
	Width     uint      // Coded width announced by the container, 0 if unknown.
	Height    uint      // Coded height announced by the container, 0 if unknown.
	TimeScale uint32    // Ticks per second of the Pts values.
}

// Frame is a decoded picture copied out of a decode surface into host memory.
// Planes are stored back to back, row by row, without padding.
type Frame struct {
	Pts           int64
	Width         int
	Height        int
	BytesPerPixel int
	Format        SurfaceFormat
	buf           buffer.PooledBuffer
}

// NewFrame wraps buf into a frame. Ownership of buf moves to the frame.
func NewFrame(pts int64, width, height, bytesPerPixel int, format SurfaceFormat, buf buffer.PooledBuffer) *Frame {
	return &Frame{
		Pts:           pts,
		Width:         width,
		Height:        height,
		BytesPerPixel: bytesPerPixel,
		Format:        format,
		buf:           buf,
	}
}

// Data returns the packed planes.
func (f *Frame) Data() []byte {
	if f.buf == nil {
		return nil
	}
	return f.buf.Data()
}

// Release returns the frame memory to the pool. The frame must not be used afterwards.
func (f *Frame) Release() {
	if f.buf != nil {
		f.buf.Release()
		f.buf = nil
	}
}

// Demuxer defines the interface for extracting access units from a container.
type Demuxer interface {
	Demux() (StreamInfo, error)              // Reads the container header and returns stream parameters.
	ReadPacket() (au *AccessUnit, err error) // Reads the next access unit.
	Close()                                  // Releases resources used by the demuxer.
}

// VideoDecoder defines an asynchronous channel driven decoder.
type VideoDecoder interface {
	Decode()                     // Starts the decoding process.
	Packets() chan<- *AccessUnit // Channel for access units to be decoded.
	Frames() <-chan *Frame       // Channel providing decoded frames in display order.
	Errors() <-chan error        // Channel reporting access units dropped by parse errors.
	Done() <-chan struct{}       // Channel signaling completion.
	Err() error                  // Error that stopped decoding, valid once Done is closed.
	Close()                      // Stops decoding and releases resources.
}

// Reader pumps access units out of a demuxer on its own goroutine.
type Reader interface {
	Read() error                 // Opens the source and starts reading.
	Info() StreamInfo            // Stream parameters, valid once Read returned nil.
	Packets() <-chan *AccessUnit // Channel for access units in stream order.
	Done() <-chan struct{}       // Channel signaling completion.
	Err() error                  // Error that stopped reading, valid once Done is closed.
	Close()                      // Stops reading and releases the demuxer.
}
