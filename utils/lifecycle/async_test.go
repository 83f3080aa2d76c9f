package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	m.Run()
}

type Bar struct{}

func (*Bar) Close_() {}

func (*Bar) String() string { return "" }

func (*Bar) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &BreakError{}
	default:
		return nil
	}
}

type ErrBar struct{ Bar }

func (*ErrBar) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &BreakError{}
	default:
		return errStep
	}
}

var errStep = errors.New("step failed")

type PanicBar struct{ Bar }

func (*PanicBar) Step(<-chan struct{}) error {
	panic("surface lost")
}

func TestAsyncStart(t *testing.T) {
	t.Parallel()

	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	err := manager.Start(func(f *Bar) error { return nil })
	require.NoError(t, err)
}

func TestAsyncErrorStart(t *testing.T) {
	t.Parallel()

	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	err := manager.Start(func(f *Bar) error { return errStep })
	require.ErrorIs(t, err, errStep)
	require.ErrorIs(t, manager.Err(), errStep)
	select {
	case <-manager.Done():
	default:
		t.FailNow()
	}
}

func TestAsyncStartAfterStart(t *testing.T) {
	t.Parallel()

	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	err := manager.Start(func(f *Bar) error { return nil })
	require.NoError(t, err)
	err = manager.Start(func(f *Bar) error { return nil })
	targetError := &StartedAlreadyError{}
	require.ErrorAs(t, err, &targetError)
}

func TestAsyncClose(t *testing.T) {
	t.Parallel()

	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	err := manager.Start(func(f *Bar) error { return nil })
	require.NoError(t, err)
	manager.Close()
}

func TestAsyncCloseBeforeStart(t *testing.T) {
	t.Parallel()
	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	manager.Close()
}

func TestAsyncStartAfterClose(t *testing.T) {
	t.Parallel()

	inst := &Bar{}
	manager := NewAsyncManager[*Bar](inst)
	manager.Close()
	err := manager.Start(func(f *Bar) error { return nil })
	targetError := &StartedAfterCloseError{}
	require.ErrorAs(t, err, &targetError)
}

func TestAsyncStep(t *testing.T) {
	t.Parallel()

	inst := &ErrBar{
		Bar: Bar{},
	}
	manager := NewAsyncManager[*ErrBar](inst)
	err := manager.Start(func(f *ErrBar) error { return nil })
	require.NoError(t, err)
	select {
	case <-manager.Done():
	case <-time.After(time.Second):
		t.FailNow()
	}
	require.ErrorIs(t, manager.Err(), errStep)
}

func TestAsyncPanic(t *testing.T) {
	t.Parallel()

	manager := NewAsyncManager[*PanicBar](&PanicBar{})
	require.NoError(t, manager.Start(func(*PanicBar) error { return nil }))
	select {
	case <-manager.Done():
	case <-time.After(time.Second):
		t.FailNow()
	}
	var pe *PanicError
	require.ErrorAs(t, manager.Err(), &pe)
	require.Equal(t, "surface lost", pe.Value)
	manager.Close()
}

func TestAsyncCloseStopsCleanly(t *testing.T) {
	t.Parallel()

	manager := NewAsyncManager[*Bar](&Bar{})
	require.NoError(t, manager.Start(func(*Bar) error { return nil }))
	manager.Close()
	<-manager.Done()
	require.NoError(t, manager.Err())
}
