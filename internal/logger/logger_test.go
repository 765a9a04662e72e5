package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHook_RoutesByLevel(t *testing.T) {
	var errBuf, infoBuf, debugBuf bytes.Buffer
	hook := &FileHook{ErrorWriter: &errBuf, InfoWriter: &infoBuf, DebugWriter: &debugBuf}

	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetOutput(&bytes.Buffer{})
	l.AddHook(hook)

	l.Error("boom")
	l.Warn("careful")
	l.Info("hello")
	l.Debug("details")

	assert.Contains(t, errBuf.String(), "boom")
	assert.NotContains(t, errBuf.String(), "hello")
	assert.Contains(t, infoBuf.String(), "careful")
	assert.Contains(t, infoBuf.String(), "hello")
	assert.Contains(t, debugBuf.String(), "details")
}

func TestInitLogger(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, InitLogger("debug", dir))
	require.NotNil(t, Logger)
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())

	require.NoError(t, InitLogger("nonsense", dir))
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}

func TestHelpers_NilLoggerIsSafe(t *testing.T) {
	saved := Logger
	Logger = nil
	defer func() { Logger = saved }()

	assert.NotPanics(t, func() {
		Info("no logger", map[string]interface{}{"k": "v"})
		ErrorMsg("still no logger")
	})
}
