package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type named struct{}

func (named) String() string { return "VP9_PARSER id=0123456789abcdef" }

func TestObjToString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "NIL", objToString(nil))
	require.Equal(t, "session", objToString("session"))
	require.Equal(t, "VP9_PARSER id=012345", objToString(named{}))
	require.Len(t, objToString(named{}), objColumns)
}

func TestLevelFilter(t *testing.T) {
	logrus.SetLevel(logrus.FatalLevel)
	before := len(logCh)
	Debugf(named{}, "dropped %d", 1)
	Errorf(named{}, "dropped %d", 2)
	require.Equal(t, before, len(logCh))
}
