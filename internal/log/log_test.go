package log

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogKeyValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))

	Info("alarm fired", "event_id", "e1", "user", "alice")
	Error("store update failed", errors.New("boom"), "event_id", "e2")

	require.Equal(t, 2, logs.Len())

	first := logs.All()[0]
	assert.Equal(t, "alarm fired", first.Message)
	assert.Equal(t, zapcore.InfoLevel, first.Level)
	assert.Equal(t, "e1", first.ContextMap()["event_id"])
	assert.Equal(t, "alice", first.ContextMap()["user"])

	second := logs.All()[1]
	assert.Equal(t, zapcore.ErrorLevel, second.Level)
	assert.Equal(t, "boom", second.ContextMap()["err"])
	assert.Equal(t, "e2", second.ContextMap()["event_id"])
}

func TestLogDropsDanglingKey(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))

	Debug("tick", "events", 3, "dangling")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.EqualValues(t, 3, ctx["events"])
	assert.Len(t, ctx, 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
}
