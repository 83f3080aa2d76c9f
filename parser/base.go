package parser

import (
	"errors"
	"fmt"

	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/utils/logger"
)

// MaxDisplayDelay bounds the display delay a client may ask for.
const MaxDisplayDelay = 16

// Base implements the parts of a parser shared by every codec. Codec parsers embed it.
type Base struct {
	codec        vdec.CodecType
	client       Client
	minSurfaces  int
	displayDelay int
	pool         DecodeBufferPool
	outQueue     []DispInfo
	lastErr      error
}

// InitBase validates params and resets the shared state.
func (b *Base) InitBase(params *Params) error {
	if params == nil {
		return fmt.Errorf("%w: nil parser params", vdec.ErrInvalidParameter)
	}
	if params.Client == nil {
		return fmt.Errorf("%w: parser needs a client", vdec.ErrInvalidParameter)
	}
	if params.MaxDisplayDelay < 0 || params.MaxDisplayDelay > MaxDisplayDelay {
		return fmt.Errorf("%w: display delay %d outside [0, %d]",
			vdec.ErrInvalidParameter, params.MaxDisplayDelay, MaxDisplayDelay)
	}
	if params.MaxNumDecodeSurfaces < 0 {
		return fmt.Errorf("%w: negative surface count", vdec.ErrInvalidParameter)
	}
	b.codec = params.Codec
	b.client = params.Client
	b.minSurfaces = params.MaxNumDecodeSurfaces
	b.displayDelay = params.MaxDisplayDelay
	b.pool = DecodeBufferPool{}
	b.outQueue = b.outQueue[:0]
	b.lastErr = nil
	return nil
}

// Client returns the callback target.
func (b *Base) Client() Client {
	return b.client
}

// Pool returns the decode buffer pool.
func (b *Base) Pool() *DecodeBufferPool {
	return &b.pool
}

// DisplayDelay returns the number of pictures held back before display.
func (b *Base) DisplayDelay() int {
	return b.displayDelay
}

// PoolSize returns the surface count to request for a sequence needing codecMin surfaces.
func (b *Base) PoolSize(codecMin int) int {
	return max(codecMin+b.displayDelay, b.minSurfaces)
}

// ResetPool drops every buffer and any queued display. Called when a new sequence starts.
func (b *Base) ResetPool(size int) {
	b.pool.Init(size)
	b.outQueue = b.outQueue[:0]
}

// FindFreeInDecBufPool returns a free decode surface and marks it in decode. When none is free the
// completions are collected first and then pictures held only by an in-flight decode are waited for.
func (b *Base) FindFreeInDecBufPool(pts int64) (int, error) {
	if idx := b.pool.findFree(); idx >= 0 {
		b.pool.acquire(idx, pts)
		return idx, nil
	}
	if err := b.CheckAndUpdateDecStatus(); err != nil {
		return -1, err
	}
	if idx := b.pool.findFree(); idx >= 0 {
		b.pool.acquire(idx, pts)
		return idx, nil
	}
	for idx := range b.pool.bufs {
		if b.pool.bufs[idx].status != UsedForDecode {
			continue
		}
		logger.Tracef(b, "Waiting for surface %d to leave decode", idx)
		if err := b.client.SyncPicture(idx); err != nil {
			return -1, errors.Join(vdec.ErrRuntime, err)
		}
		b.pool.acquire(idx, pts)
		return idx, nil
	}
	return -1, vdec.ErrCapacity
}

// CheckAndUpdateDecStatus polls every surface still in decode and clears the decode bit of the
// finished ones.
func (b *Base) CheckAndUpdateDecStatus() error {
	for idx := range b.pool.bufs {
		if b.pool.bufs[idx].status&UsedForDecode == 0 {
			continue
		}
		st, err := b.client.DecodeStatus(idx)
		if err != nil {
			return errors.Join(vdec.ErrRuntime, err)
		}
		if !st.Done() {
			continue
		}
		if st == DecodeStatusError {
			b.CaptureError(fmt.Errorf("%w: hardware reported decode error on surface %d", vdec.ErrRuntime, idx))
		}
		b.pool.Clear(idx, UsedForDecode)
	}
	return nil
}

// QueueForDisplay appends a decoded picture to the output queue and holds it for display.
func (b *Base) QueueForDisplay(idx int, pts int64) {
	b.pool.addDisplay(idx)
	b.outQueue = append(b.outQueue, DispInfo{
		PicIdx:           idx,
		Pts:              pts,
		ProgressiveFrame: true,
		TopFieldFirst:    false,
	})
}

// PendingDisplay returns the number of pictures queued but not yet handed to the client.
func (b *Base) PendingDisplay() int {
	return len(b.outQueue)
}

// OutputDecodedPictures hands queued pictures to the client, keeping DisplayDelay of them back
// unless flush is set.
func (b *Base) OutputDecodedPictures(flush bool) error {
	for len(b.outQueue) > 0 && (flush || len(b.outQueue) > b.displayDelay) {
		info := b.outQueue[0]
		b.outQueue = b.outQueue[1:]
		logger.Tracef(b, "Display picture %d pts %d", info.PicIdx, info.Pts)
		if err := b.client.DisplayPicture(&info); err != nil {
			return err
		}
	}
	return nil
}

// MarkFrameForReuse releases the display hold the client took on a picture.
func (b *Base) MarkFrameForReuse(picIdx int) error {
	return b.pool.releaseDisplay(picIdx)
}

// CaptureError records err as the last parser error.
func (b *Base) CaptureError(err error) {
	b.lastErr = err
	logger.Warningf(b, "%v", err)
}

// LastError returns the last captured error.
func (b *Base) LastError() error {
	return b.lastErr
}

func (b *Base) String() string {
	return fmt.Sprintf("PARSER %s", b.codec)
}
