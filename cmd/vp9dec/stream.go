package main

import (
	"context"
	"crypto/md5" //nolint:gosec // frame checksums, not security
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/config"
	"github.com/ugparu/vdec/decoder"
	"github.com/ugparu/vdec/format/ivf"
	"github.com/ugparu/vdec/format/rtp"
	"github.com/ugparu/vdec/reader"
	"github.com/ugparu/vdec/utils/logger"
	"github.com/ugparu/vdec/utils/sdp"
)

// ErrChecksumMismatch is returned when the output digest differs from the expected one.
var ErrChecksumMismatch = errors.New("md5 mismatch")

// stats counts the work of one session. It is read concurrently by the stats endpoint.
type stats struct {
	Input    string
	Session  int
	decoded  atomic.Int64
	output   atomic.Int64
	dropped  atomic.Int64
	finished atomic.Bool
}

type result struct {
	decoded int
	output  int
	flushed int
	md5     string
}

const (
	dialTimeout = 5 * time.Second
	readTimeout = 5 * time.Second
)

// opener returns the demuxer factory for the configured container. An SDP file restricts RTP
// input to the VP9 payload type it announces.
func opener(cfg *config.Config) (reader.Opener, error) {
	if cfg.Container != config.ContainerRTP {
		return func(input string) (vdec.Demuxer, error) {
			return ivf.Open(input)
		}, nil
	}

	var media *sdp.Media
	if cfg.SDP != "" {
		data, err := os.ReadFile(cfg.SDP)
		if err != nil {
			return nil, err
		}
		_, medias := sdp.Parse(string(data))
		m, ok := sdp.Find(medias, vdec.VP9)
		if !ok {
			return nil, fmt.Errorf("%w: %s announces no VP9 stream", vdec.ErrInvalidParameter, cfg.SDP)
		}
		media = &m
	}

	return func(input string) (vdec.Demuxer, error) {
		src, err := openSource(input)
		if err != nil {
			return nil, err
		}
		if media == nil {
			return &closingDemuxer{Demuxer: rtp.NewVP9Demuxer(src, cfg.RTPChannel), src: src}, nil
		}
		dmx, err := rtp.NewVP9DemuxerForMedia(src, cfg.RTPChannel, *media)
		if err != nil {
			return nil, errors.Join(err, src.Close())
		}
		return &closingDemuxer{Demuxer: dmx, src: src}, nil
	}, nil
}

// openSource opens an RTP capture file or connects to a live interleaved stream.
func openSource(input string) (io.ReadCloser, error) {
	if addr, ok := config.LiveAddr(input); ok {
		conn, err := net.DialTimeout("tcp", addr, dialTimeout)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: conn}, nil
	}
	return os.Open(input)
}

// deadlineConn bounds every read so a stalled peer is reconnected and Close never waits long.
type deadlineConn struct {
	net.Conn
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

type closingDemuxer struct {
	vdec.Demuxer
	src io.Closer
}

func (d *closingDemuxer) Close() {
	d.Demuxer.Close()
	_ = d.src.Close()
}

// nextUnit waits for the next access unit of rdr. io.EOF reports a reader that stopped without
// an end of stream unit.
func nextUnit(ctx context.Context, rdr vdec.Reader) (*vdec.AccessUnit, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case au, ok := <-rdr.Packets():
		if !ok {
			return nil, io.EOF
		}
		return au, nil
	case <-rdr.Done():
		select {
		case au, ok := <-rdr.Packets():
			if ok {
				return au, nil
			}
		default:
		}
		if err := rdr.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
}

// decodeStream decodes one input with its own decoder and writes the output pictures to out
// and to the digest when md5 output is on.
func decodeStream(ctx context.Context, cfg *config.Config, input string, out io.Writer, st *stats) (res result, err error) {
	defer st.finished.Store(true)

	open, err := opener(cfg)
	if err != nil {
		return res, err
	}
	var rdr vdec.Reader
	if config.IsLive(input) {
		rdr = reader.NewLive(input, cfg.PacketQueue, open)
	} else {
		rdr = reader.New(input, cfg.PacketQueue, open)
	}
	defer rdr.Close()
	if err = rdr.Read(); err != nil {
		return res, err
	}
	info := rdr.Info()
	opts, err := cfg.DecoderOptions()
	if err != nil {
		return res, err
	}
	if info.Codec != opts.Codec {
		return res, fmt.Errorf("%w: %s carries %s, configured for %s", vdec.ErrInvalidParameter, input, info.Codec, opts.Codec)
	}

	var sum hash.Hash
	if cfg.MD5 {
		sum = md5.New() //nolint:gosec // frame checksums, not security
	}
	mode, err := cfg.Flush()
	if err != nil {
		return res, err
	}
	opts.Reconfig = &decoder.ReconfigParams{Mode: mode, Output: out, Checksum: sum}

	dec, err := decoder.NewFrameDecoder(opts)
	if err != nil {
		return res, err
	}
	defer func() {
		err = errors.Join(err, dec.Close())
	}()

	drain := func() error {
		for cfg.MaxFrames == 0 || res.output < cfg.MaxFrames {
			of, err := dec.GetFrame()
			if err != nil || of == nil {
				return err
			}
			osi, err := dec.OutputSurfaceInfo()
			if err != nil {
				return err
			}
			if out != nil {
				if err = decoder.WriteFrame(out, of.Frame, &osi); err != nil {
					return err
				}
			}
			if sum != nil {
				if err = decoder.WriteFrame(sum, of.Frame, &osi); err != nil {
					return err
				}
			}
			if err = dec.ReleaseFrame(of.Pts); err != nil {
				return err
			}
			res.output++
			st.output.Add(1)
		}
		return nil
	}

	for cfg.MaxFrames == 0 || res.output < cfg.MaxFrames {
		au, err := nextUnit(ctx, rdr)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		if au.IsEndOfStream() {
			break
		}
		_, n, err := dec.DecodeFrame(au.Data, au.Flags, au.Pts)
		res.decoded += n
		st.decoded.Add(int64(n))
		if err != nil {
			if !vdec.IsParseError(err) {
				return res, err
			}
			st.dropped.Add(1)
			logger.Warningf(dec, "%s: dropped access unit pts %d: %v", input, au.Pts, err)
		}
		if err = drain(); err != nil {
			return res, err
		}
	}

	if cfg.MaxFrames == 0 || res.output < cfg.MaxFrames {
		if _, _, err = dec.DecodeFrame(nil, vdec.FlagEndOfStream, 0); err != nil && !vdec.IsParseError(err) {
			return res, err
		}
		if err = drain(); err != nil {
			return res, err
		}
	}

	res.flushed = dec.GetNumOfFlushedFrames()
	if sum != nil {
		res.md5 = hex.EncodeToString(sum.Sum(nil))
	}
	logger.Infof(dec, "%s: decoded %d, output %d, flushed %d", input, res.decoded, res.output, res.flushed)
	return res, nil
}

// checkMD5 compares digest with the first word of the file at path.
func checkMD5(path, digest string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return fmt.Errorf("%s: no digest", path)
	}
	if !strings.EqualFold(fields[0], digest) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, digest, fields[0])
	}
	return nil
}
