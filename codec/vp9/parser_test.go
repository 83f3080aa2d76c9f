package vp9

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
	"github.com/ugparu/vdec/codec/vp9/vp9test"
	"github.com/ugparu/vdec/parser"
)

type fakeClient struct {
	p         *Parser
	surfaces  int
	formats   []parser.VideoFormat
	decoded   []parser.PicParams
	displayed []parser.DispInfo
	hold      bool
	decodeErr error
}

func (c *fakeClient) SequenceCallback(f *parser.VideoFormat) (int, error) {
	c.formats = append(c.formats, *f)
	return c.surfaces, nil
}

func (c *fakeClient) DecodePicture(pp *parser.PicParams) error {
	if c.decodeErr != nil {
		return c.decodeErr
	}
	pp.Bitstream = nil
	c.decoded = append(c.decoded, *pp)
	return nil
}

func (c *fakeClient) DisplayPicture(info *parser.DispInfo) error {
	c.displayed = append(c.displayed, *info)
	if c.hold {
		return nil
	}
	return c.p.MarkFrameForReuse(info.PicIdx)
}

func (c *fakeClient) DecodeStatus(int) (parser.DecodeStatus, error) {
	return parser.DecodeStatusSuccess, nil
}

func (c *fakeClient) SyncPicture(int) error {
	return nil
}

func newParser(t *testing.T, delay int) (*Parser, *fakeClient) {
	t.Helper()
	p := New()
	c := &fakeClient{p: p}
	require.NoError(t, p.Initialize(&parser.Params{Codec: vdec.VP9, MaxDisplayDelay: delay, Client: c}))
	return p, c
}

func feed(t *testing.T, p *Parser, pts int64, data []byte) {
	t.Helper()
	require.NoError(t, p.ParseVideoData(&vdec.AccessUnit{Data: data, Pts: pts}))
}

func eos(t *testing.T, p *Parser) {
	t.Helper()
	require.NoError(t, p.ParseVideoData(&vdec.AccessUnit{Flags: vdec.FlagEndOfStream}))
}

func TestParserInitialize(t *testing.T) {
	t.Parallel()

	p := New()
	require.ErrorIs(t, p.Initialize(nil), vdec.ErrInvalidParameter)
	require.ErrorIs(t, p.Initialize(&parser.Params{Codec: vdec.H264, Client: &fakeClient{}}), vdec.ErrInvalidParameter)
	require.ErrorIs(t, p.ParseVideoData(&vdec.AccessUnit{Data: []byte{1}}), vdec.ErrInvalidParameter)

	p, _ = newParser(t, 0)
	require.ErrorIs(t, p.ParseVideoData(nil), vdec.ErrInvalidParameter)
	assert.Equal(t, "VP9_PARSER", p.String())
}

func TestParserKeyFrameSequence(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	f := vp9test.KeyFrame(352, 288)
	f.RenderWidth, f.RenderHeight = 350, 280
	feed(t, p, 40, f.Bytes())

	require.Len(t, c.formats, 1)
	format := c.formats[0]
	assert.Equal(t, vdec.VP9, format.Codec)
	assert.Equal(t, uint32(352), format.CodedWidth)
	assert.Equal(t, uint32(288), format.CodedHeight)
	assert.Equal(t, 350, format.DisplayArea.Dx())
	assert.Equal(t, 280, format.DisplayArea.Dy())
	assert.Equal(t, vdec.Chroma420, format.Chroma)
	assert.Equal(t, MinDecodeBuffers, format.MinNumDecodeSurfaces)
	assert.Equal(t, MinDecodeBuffers, p.Pool().Size())

	require.Len(t, c.decoded, 1)
	pp := c.decoded[0]
	assert.True(t, pp.IntraPic)
	assert.True(t, pp.RefPic)
	assert.Equal(t, int64(40), pp.Pts)
	params, ok := pp.Codec.(*PicParams)
	require.True(t, ok)
	assert.Equal(t, vdec.VP9, params.CodecType())
	assert.Nil(t, params.ReferenceSurfaces())
	assert.Equal(t, AcQ(8, 60), params.Segments[0].LumaAcQuantScale)
	assert.Equal(t, uint8(11), params.Segments[0].FilterLevel[IntraFrame][0])
	for slot := range NumRefFrames {
		assert.Equal(t, -1, params.ReferenceFrames[slot])
	}

	require.Len(t, c.displayed, 1)
	assert.Equal(t, pp.CurrPicIdx, c.displayed[0].PicIdx)
	assert.Equal(t, NumRefFrames, p.DPB().AssignedRefs())
}

func TestParserInterFrameReferences(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())
	feed(t, p, 1, vp9test.InterFrame(0x01).Bytes())

	require.Len(t, c.decoded, 2)
	key := c.decoded[0].CurrPicIdx
	inter := c.decoded[1]
	assert.False(t, inter.IntraPic)
	assert.NotEqual(t, key, inter.CurrPicIdx)
	params := inter.Codec.(*PicParams)
	assert.Equal(t, []int{key, key, key}, params.ReferenceSurfaces())
	assert.True(t, params.UsePrevFrameMvs)
	assert.Equal(t, inter.CurrPicIdx, p.DPB().RefSurface(0))
	assert.Equal(t, key, p.DPB().RefSurface(1))
	assert.Equal(t, p.DPB().AssignedRefs(), p.DPB().TotalRefCount())
}

func TestParserSuperframeRoundTrip(t *testing.T) {
	t.Parallel()

	for _, delay := range []int{0, 2} {
		p, c := newParser(t, delay)
		chunk := vp9test.Superframe(
			vp9test.KeyFrame(64, 64).Bytes(),
			vp9test.InterFrame(0x01).Bytes(),
			vp9test.InterFrame(0x02).Bytes(),
			vp9test.InterFrame(0x04).Bytes(),
			vp9test.ShowExistingFrame(1).Bytes(),
		)
		feed(t, p, 9, chunk)
		assert.Len(t, c.displayed, 5-delay)
		eos(t, p)

		require.Len(t, c.decoded, 4)
		require.Len(t, c.displayed, 5)
		for i := range c.decoded {
			assert.Equal(t, c.decoded[i].CurrPicIdx, c.displayed[i].PicIdx)
		}
		assert.Equal(t, c.decoded[2].CurrPicIdx, c.displayed[4].PicIdx)
		assert.Equal(t, 0, p.DPB().AssignedRefs())
		assert.Equal(t, 0, p.PendingDisplay())
	}
}

func TestParserHiddenFrames(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	hidden := vp9test.InterFrame(0x04)
	hidden.ShowFrame = false
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())
	feed(t, p, 1, vp9test.Superframe(hidden.Bytes(), vp9test.InterFrame(0x01).Bytes()))
	feed(t, p, 2, vp9test.ShowExistingFrame(2).Bytes())
	eos(t, p)

	require.Len(t, c.decoded, 3)
	require.Len(t, c.displayed, 3)
	assert.Equal(t, c.decoded[0].CurrPicIdx, c.displayed[0].PicIdx)
	assert.Equal(t, c.decoded[2].CurrPicIdx, c.displayed[1].PicIdx)
	assert.Equal(t, c.decoded[1].CurrPicIdx, c.displayed[2].PicIdx)
	assert.Equal(t, int64(2), c.displayed[2].Pts)
}

func TestParserRequiresKeyFrame(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	err := p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.InterFrame(0x01).Bytes()})
	require.Error(t, err)
	assert.True(t, vdec.IsParseError(err))
	assert.Equal(t, err, p.LastError())

	err = p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.ShowExistingFrame(0).Bytes()})
	assert.True(t, vdec.IsParseError(err))
	assert.Empty(t, c.decoded)
	assert.Empty(t, c.formats)

	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())
	assert.Len(t, c.decoded, 1)
}

func TestParserDropsBadChunkAndContinues(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())

	bad := vp9test.Superframe(vp9test.InterFrame(0x01).Bytes(), vp9test.InterFrame(0x01).Bytes())
	bad[len(bad)-4] ^= 0x08
	err := p.ParseVideoData(&vdec.AccessUnit{Data: bad})
	assert.True(t, vdec.IsParseError(err))
	assert.Len(t, c.decoded, 1)

	feed(t, p, 2, vp9test.InterFrame(0x01).Bytes())
	assert.Len(t, c.decoded, 2)
}

func TestParserDroppedFrameLeavesNoState(t *testing.T) {
	t.Parallel()

	clean, cc := newParser(t, 0)
	feed(t, clean, 0, vp9test.KeyFrame(64, 64).Bytes())
	feed(t, clean, 1, vp9test.InterFrame(0x01).Bytes())
	require.Len(t, cc.decoded, 2)

	p, c := newParser(t, 0)
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())

	// The delta update is read before the zero header size is rejected.
	intra := 20
	bad := vp9test.InterFrame(0x01)
	bad.Deltas = &vp9test.LoopFilterDeltas{Ref: [4]*int{&intra}}
	bad.CompressedSize = 0
	err := p.ParseVideoData(&vdec.AccessUnit{Data: bad.Bytes(), Pts: 1})
	require.True(t, vdec.IsParseError(err))
	require.Len(t, c.decoded, 1)
	assert.Equal(t, KeyFrame, p.hdr.FrameType)
	assert.Equal(t, [MaxRefFrames]int8{1, 0, -1, -1}, p.hdr.LoopFilter.RefDeltas)

	feed(t, p, 1, vp9test.InterFrame(0x01).Bytes())
	require.Len(t, c.decoded, 2)
	got := c.decoded[1].Codec.(*PicParams)
	assert.Equal(t, KeyFrame, got.LastFrameType)
	assert.Equal(t, cc.decoded[1].Codec.(*PicParams), got)
}

func TestParserDroppedShowExistingFrame(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	before := p.hdr

	err := p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.ShowExistingFrame(3).Bytes()})
	require.True(t, vdec.IsParseError(err))
	assert.Equal(t, before, p.hdr)
	assert.Empty(t, c.displayed)

	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())
	assert.Len(t, c.decoded, 1)
}

func TestParserNewSequence(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 1)
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())
	feed(t, p, 1, vp9test.KeyFrame(64, 64).Bytes())
	require.Len(t, c.formats, 1)
	assert.Len(t, c.displayed, 1)

	feed(t, p, 2, vp9test.KeyFrame(128, 96).Bytes())
	require.Len(t, c.formats, 2)
	assert.Equal(t, uint32(128), c.formats[1].CodedWidth)
	assert.Equal(t, MinDecodeBuffers+1, c.formats[1].MinNumDecodeSurfaces)
	assert.Len(t, c.displayed, 2)

	eos(t, p)
	assert.Len(t, c.displayed, 3)

	high := vp9test.KeyFrame(128, 96)
	high.Profile, high.BitDepth = 2, 10
	feed(t, p, 3, high.Bytes())
	require.Len(t, c.formats, 3)
	assert.Equal(t, vdec.P016, c.formats[2].SurfaceFormat())
}

func TestParserRejectsFramesOutsideSequence(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	feed(t, p, 0, vp9test.KeyFrame(64, 64).Bytes())

	err := p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.IntraOnlyFrame(128, 64, 0x02).Bytes()})
	assert.True(t, vdec.IsParseError(err))

	feed(t, p, 1, vp9test.IntraOnlyFrame(32, 32, 0x02).Bytes())
	assert.Len(t, c.decoded, 2)
	assert.Len(t, c.formats, 1)
}

func TestParserRejectsUnscalableReference(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	feed(t, p, 0, vp9test.KeyFrame(256, 256).Bytes())

	f := vp9test.InterFrame(0x01)
	f.SizeFromRef = -1
	f.Width, f.Height = 64, 64
	err := p.ParseVideoData(&vdec.AccessUnit{Data: f.Bytes()})
	assert.True(t, vdec.IsParseError(err))
	assert.Len(t, c.decoded, 1)

	f.Width, f.Height = 128, 128
	feed(t, p, 1, f.Bytes())
	assert.Len(t, c.decoded, 2)
}

func TestParserClientErrors(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	c.surfaces = 3
	err := p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.KeyFrame(64, 64).Bytes()})
	require.ErrorIs(t, err, vdec.ErrInvalidParameter)
	assert.False(t, vdec.IsParseError(err))

	c.surfaces = 0
	c.decodeErr = errors.New("device lost")
	err = p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.KeyFrame(64, 64).Bytes()})
	require.ErrorIs(t, err, vdec.ErrRuntime)
	assert.Equal(t, MinDecodeBuffers, p.Pool().Free())
}

func TestParserCapacity(t *testing.T) {
	t.Parallel()

	p, c := newParser(t, 0)
	c.hold = true
	for i := range MinDecodeBuffers {
		feed(t, p, int64(i), vp9test.KeyFrame(64, 64).Bytes())
	}
	err := p.ParseVideoData(&vdec.AccessUnit{Data: vp9test.KeyFrame(64, 64).Bytes()})
	require.ErrorIs(t, err, vdec.ErrCapacity)

	require.NoError(t, p.MarkFrameForReuse(c.displayed[0].PicIdx))
	feed(t, p, 20, vp9test.KeyFrame(64, 64).Bytes())
}
