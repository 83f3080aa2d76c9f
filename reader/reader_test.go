package reader

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ugparu/vdec"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

var errBroken = errors.New("broken pipe")

type fakeDemuxer struct {
	info   vdec.StreamInfo
	units  []*vdec.AccessUnit
	endErr error
	closed bool
}

func (d *fakeDemuxer) Demux() (vdec.StreamInfo, error) {
	return d.info, nil
}

func (d *fakeDemuxer) ReadPacket() (*vdec.AccessUnit, error) {
	if len(d.units) == 0 {
		return nil, d.endErr
	}
	au := d.units[0]
	d.units = d.units[1:]
	return au, nil
}

func (d *fakeDemuxer) Close() {
	d.closed = true
}

func units(pts ...int64) []*vdec.AccessUnit {
	res := make([]*vdec.AccessUnit, 0, len(pts))
	for _, p := range pts {
		res = append(res, &vdec.AccessUnit{Data: []byte{byte(p)}, Pts: p, Flags: vdec.FlagTimestamp})
	}
	return res
}

// opener hands out the demuxers in order and fails once they are used up.
type opener struct {
	mu     sync.Mutex
	dmxs   []*fakeDemuxer
	opened []*fakeDemuxer
}

func (o *opener) open(string) (vdec.Demuxer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.dmxs) == 0 {
		return nil, errBroken
	}
	d := o.dmxs[0]
	o.dmxs = o.dmxs[1:]
	o.opened = append(o.opened, d)
	return d, nil
}

func collect(t *testing.T, rdr vdec.Reader, n int) []*vdec.AccessUnit {
	t.Helper()
	res := make([]*vdec.AccessUnit, 0, n)
	timeout := time.After(5 * time.Second)
	for len(res) < n {
		select {
		case au := <-rdr.Packets():
			res = append(res, au)
		case <-timeout:
			t.Fatalf("got %d of %d units", len(res), n)
		}
	}
	return res
}

func TestReaderFile(t *testing.T) {
	t.Parallel()

	info := vdec.StreamInfo{Codec: vdec.VP9, TimeScale: 30}
	dmx := &fakeDemuxer{info: info, units: units(0, 1, 2), endErr: io.EOF}
	op := &opener{dmxs: []*fakeDemuxer{dmx}}
	rdr := New("file.ivf", 1, op.open)

	require.NoError(t, rdr.Read())
	assert.Equal(t, info, rdr.Info())

	got := collect(t, rdr, 4)
	for i := range 3 {
		assert.Equal(t, int64(i), got[i].Pts)
		assert.Zero(t, got[i].Flags&vdec.FlagDiscontinuity)
	}
	assert.True(t, got[3].IsEndOfStream())

	<-rdr.Done()
	require.NoError(t, rdr.Err())
	rdr.Close()
	assert.True(t, dmx.closed)
	_, ok := <-rdr.Packets()
	assert.False(t, ok)
}

func TestReaderOpenError(t *testing.T) {
	t.Parallel()

	rdr := New("missing.ivf", 1, (&opener{}).open)
	require.ErrorIs(t, rdr.Read(), errBroken)
	<-rdr.Done()
	rdr.Close()

	rdr = New("none", 1, nil)
	require.ErrorIs(t, rdr.Read(), vdec.ErrInvalidParameter)
	rdr.Close()
}

func TestReaderFileError(t *testing.T) {
	t.Parallel()

	dmx := &fakeDemuxer{info: vdec.StreamInfo{Codec: vdec.VP9}, units: units(0), endErr: errBroken}
	rdr := New("file.ivf", 4, (&opener{dmxs: []*fakeDemuxer{dmx}}).open)
	require.NoError(t, rdr.Read())

	<-rdr.Done()
	require.ErrorIs(t, rdr.Err(), errBroken)
	got := collect(t, rdr, 1)
	assert.Equal(t, int64(0), got[0].Pts)
	rdr.Close()
}

func TestReaderLiveReconnect(t *testing.T) {
	t.Parallel()

	info := vdec.StreamInfo{Codec: vdec.VP9, TimeScale: 90000}
	first := &fakeDemuxer{info: info, units: units(1000, 4000, 7000), endErr: errBroken}
	second := &fakeDemuxer{info: info, units: units(0, 3000), endErr: io.EOF}
	op := &opener{dmxs: []*fakeDemuxer{first, second}}

	rdr := newReader("tcp://camera", 0, op.open, true)
	rdr.minInterval = time.Millisecond
	require.NoError(t, rdr.Read())

	got := collect(t, rdr, 5)
	rdr.Close()

	pts := make([]int64, 0, len(got))
	for _, au := range got {
		pts = append(pts, au.Pts)
	}
	assert.Equal(t, []int64{1000, 4000, 7000, 10000, 13000}, pts)
	assert.NotZero(t, got[3].Flags&vdec.FlagDiscontinuity)
	assert.Zero(t, got[4].Flags&vdec.FlagDiscontinuity)
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestReaderLiveCodecSwitch(t *testing.T) {
	t.Parallel()

	first := &fakeDemuxer{info: vdec.StreamInfo{Codec: vdec.VP9}, endErr: errBroken}
	second := &fakeDemuxer{info: vdec.StreamInfo{Codec: vdec.H264}}
	rdr := newReader("tcp://camera", 0, (&opener{dmxs: []*fakeDemuxer{first, second}}).open, true)
	rdr.minInterval = time.Millisecond
	require.NoError(t, rdr.Read())

	<-rdr.Done()
	require.ErrorIs(t, rdr.Err(), vdec.ErrUnsupportedCodec)
	assert.True(t, second.closed)
	rdr.Close()
}

func TestReaderCloseWhileBlocked(t *testing.T) {
	t.Parallel()

	dmx := &fakeDemuxer{info: vdec.StreamInfo{Codec: vdec.VP9}, units: units(0, 1, 2), endErr: io.EOF}
	rdr := New("file.ivf", 0, (&opener{dmxs: []*fakeDemuxer{dmx}}).open)
	require.NoError(t, rdr.Read())

	done := make(chan struct{})
	go func() {
		rdr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked")
	}
	require.NoError(t, rdr.Err())
}

func TestReconnectInterval(t *testing.T) {
	t.Parallel()

	rdr := newReader("x", 0, nil, true)
	assert.Equal(t, 2*time.Second, rdr.updateReconnectInterval(time.Second))
	assert.Equal(t, maxReconnectInterval, rdr.updateReconnectInterval(5*time.Second))
	assert.Equal(t, maxReconnectInterval, rdr.updateReconnectInterval(maxReconnectInterval))
}

func TestOffsetHandler(t *testing.T) {
	t.Parallel()

	oh := offsetHandler{jump: 100}
	apply := func(pts int64) (*vdec.AccessUnit, bool) {
		au := &vdec.AccessUnit{Pts: pts, Flags: vdec.FlagTimestamp}
		return au, oh.apply(au)
	}

	au, ok := apply(10)
	require.True(t, ok)
	assert.Equal(t, int64(10), au.Pts)
	au, ok = apply(20)
	require.True(t, ok)
	assert.Equal(t, int64(20), au.Pts)

	_, ok = apply(15)
	assert.False(t, ok, "small step back is dropped")

	au, ok = apply(20)
	require.True(t, ok, "repeated pts of a hidden frame is kept")
	assert.Equal(t, int64(20), au.Pts)

	au, ok = apply(-500)
	require.True(t, ok, "large jump back is rebased")
	assert.Equal(t, int64(30), au.Pts)
	assert.NotZero(t, au.Flags&vdec.FlagDiscontinuity)

	au, ok = apply(-490)
	require.True(t, ok)
	assert.Equal(t, int64(40), au.Pts)

	untimed := &vdec.AccessUnit{Pts: 1}
	assert.True(t, oh.apply(untimed))
	assert.Equal(t, int64(1), untimed.Pts)
}
