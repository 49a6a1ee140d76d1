package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNew_WritesJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "engine", slog.LevelInfo)
	l.Debug("hidden")
	l.Info("cycle done", slog.String("action", "HOLD"))

	line := strings.TrimSpace(buf.String())
	require.True(t, gjson.Valid(line), line)
	assert.Equal(t, "engine", gjson.Get(line, "service").String())
	assert.Equal(t, "cycle done", gjson.Get(line, "msg").String())
	assert.Equal(t, "HOLD", gjson.Get(line, "action").String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", TraceID(ctx))

	ctx = WithTraceID(ctx, "test-trace-123")
	assert.Equal(t, "test-trace-123", TraceID(ctx))
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("ETH-USDT-SWAP", ts)

	assert.True(t, strings.HasPrefix(tid, "ETH-USDT-SWAP-"), tid)
	assert.Contains(t, tid, "123456789")
}

func TestLogWithTrace(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, LogWithTrace(ctx))

	ctx = WithTraceID(ctx, "abc-123")
	attrs := LogWithTrace(ctx)
	require.Len(t, attrs, 1)
	attr, ok := attrs[0].(slog.Attr)
	require.True(t, ok)
	assert.Equal(t, "trace_id", attr.Key)
	assert.Equal(t, "abc-123", attr.Value.String())
}
