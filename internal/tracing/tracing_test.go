package tracing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		assert.True(t, strings.HasPrefix(id, "req_"))
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req_abc")
	assert.Equal(t, "req_abc", GetRequestID(ctx))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), Duration(context.Background()))

	ctx := WithStartTime(context.Background(), time.Now().Add(-time.Second))
	assert.GreaterOrEqual(t, Duration(ctx), time.Second)
}

func TestManager_DisabledIsNoop(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	m := NewManager(Config{Enabled: false}, logger)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_StdoutExporter(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.UseStdout = true

	m := NewManager(cfg, logger)
	require.NoError(t, m.Initialize(context.Background()))

	ctx, span := StartSpan(context.Background(), "queue.pass")
	assert.NotEmpty(t, TraceID(ctx))
	span.End()

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestSpanHelpers_NoActiveSpan(t *testing.T) {
	// Must not panic without an active span.
	AddSpanAttributes(context.Background())
	RecordError(context.Background(), assert.AnError)
	assert.Empty(t, TraceID(context.Background()))
}
