package decoder

import (
	"fmt"
	"runtime"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/lifecycle"
	"github.com/ugparu/vdec/utils/logger"
)

// videoDecoder runs a FrameDecoder on its own goroutine. Access units go in through Packets and
// host copies of the decoded pictures come out of Frames in display order.
type videoDecoder struct {
	lifecycle.AsyncManager[*videoDecoder]
	*FrameDecoder
	opts     Options
	inpPktCh chan *vdec.AccessUnit // Channel for receiving access units.
	outFrmCh chan *vdec.Frame      // Channel for sending decoded pictures.
	errCh    chan error            // Channel for reporting dropped access units.
	pending  []*vdec.Frame         // Pictures flushed by a reconfiguration, sent before anything else.
}

// NewVideo creates an asynchronous decoder. Call Decode to start it. Decoding stops after an
// end of stream access unit or a fatal error, see Err.
func NewVideo(chanSize int, opts Options) (vdec.VideoDecoder, error) {
	dec := &videoDecoder{
		AsyncManager: nil,
		FrameDecoder: nil,
		opts:         opts,
		inpPktCh:     make(chan *vdec.AccessUnit, chanSize),
		outFrmCh:     make(chan *vdec.Frame, chanSize),
		errCh:        make(chan error, chanSize),
	}
	dec.opts.Reconfig = &ReconfigParams{Flush: dec.keepFlushed}
	if err := dec.opts.Validate(); err != nil {
		return nil, err
	}
	dec.AsyncManager = lifecycle.NewAsyncManager(dec)
	runtime.SetFinalizer(dec, func(dcd *videoDecoder) { dcd.Close() })
	return dec, nil
}

// keepFlushed copies pictures a reconfiguration would otherwise drop so none is lost.
func (dec *videoDecoder) keepFlushed(frame *OutputFrame) error {
	frm, err := dec.copyOut(frame)
	if err != nil {
		return err
	}
	dec.pending = append(dec.pending, frm)
	return nil
}

func (dec *videoDecoder) copyOut(frame *OutputFrame) (*vdec.Frame, error) {
	out, err := dec.OutputSurfaceInfo()
	if err != nil {
		return nil, err
	}
	buf, err := CopyFrame(frame.Frame, &out)
	if err != nil {
		return nil, err
	}
	return vdec.NewFrame(frame.Pts, out.Rect.Dx(), out.Rect.Dy(), out.BytesPerSample, out.Format, buf), nil
}

// Decode starts the decoding goroutine.
func (dec *videoDecoder) Decode() {
	startFunc := func(dec *videoDecoder) (err error) {
		dec.FrameDecoder, err = NewFrameDecoder(dec.opts)
		return err
	}
	if err := dec.Start(startFunc); err != nil {
		logger.Errorf(dec, "Can not start: %v", err)
	}
}

// Step decodes one access unit and sends every picture it produced.
func (dec *videoDecoder) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		logger.Debug(dec, "Close signal detected. Breaking decoding...")
		return &lifecycle.BreakError{}
	case au, ok := <-dec.inpPktCh:
		if !ok {
			return &lifecycle.BreakError{}
		}
		return dec.processPacket(au, stopCh)
	}
}

func (dec *videoDecoder) processPacket(au *vdec.AccessUnit, stopCh <-chan struct{}) error {
	logger.Tracef(dec, "Processing access unit pts %d size %d", au.Pts, len(au.Data))

	_, _, err := dec.DecodeFrame(au.Data, au.Flags, au.Pts)
	if err != nil {
		if !vdec.IsParseError(err) {
			return err
		}
		select {
		case dec.errCh <- err:
		default:
			logger.Debugf(dec, "Error channel full, dropping %v", err)
		}
	}

	for {
		frm, err := dec.nextFrame()
		if err != nil {
			return err
		}
		if frm == nil {
			break
		}
		select {
		case <-stopCh:
			frm.Release()
			return &lifecycle.BreakError{}
		case dec.outFrmCh <- frm:
			logger.Tracef(dec, "Sent picture pts %d", frm.Pts)
		}
	}

	if au.IsEndOfStream() {
		logger.Debugf(dec, "End of stream after %d pictures", dec.NumDecoded())
		return &lifecycle.BreakError{}
	}
	return nil
}

// nextFrame returns the next picture to send, flushed pictures first.
func (dec *videoDecoder) nextFrame() (*vdec.Frame, error) {
	if len(dec.pending) > 0 {
		frm := dec.pending[0]
		dec.pending = dec.pending[1:]
		return frm, nil
	}
	of, err := dec.GetFrame()
	if err != nil || of == nil {
		return nil, err
	}
	frm, err := dec.copyOut(of)
	if relErr := dec.ReleaseFrame(of.Pts); err == nil {
		err = relErr
	}
	if err != nil {
		if frm != nil {
			frm.Release()
		}
		return nil, err
	}
	return frm, nil
}

func (dec *videoDecoder) Close() {
	dec.AsyncManager.Close()
}

// Close_ stops the frame decoder and closes associated channels.
func (dec *videoDecoder) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	if dec.FrameDecoder != nil {
		if err := dec.FrameDecoder.Close(); err != nil {
			logger.Warningf(dec, "Closing: %v", err)
		}
	}
	for _, frm := range dec.pending {
		frm.Release()
	}
	dec.pending = nil
	close(dec.inpPktCh)
	close(dec.outFrmCh)
	close(dec.errCh)
}

// String returns a string representation of the video decoder.
func (dec *videoDecoder) String() string {
	return fmt.Sprintf("VIDEO_DECODER codec=%s", dec.opts.Codec)
}

// Packets returns the input channel.
func (dec *videoDecoder) Packets() chan<- *vdec.AccessUnit {
	return dec.inpPktCh
}

// Frames returns the output channel. It is closed by Close.
func (dec *videoDecoder) Frames() <-chan *vdec.Frame {
	return dec.outFrmCh
}

// Errors reports access units dropped because of parse errors.
func (dec *videoDecoder) Errors() <-chan error {
	return dec.errCh
}
