package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	return out
}

func TestZerologAdapter(t *testing.T) {
	t.Run("writes fields and errors", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewZerologAdapterWithWriter(&buf, zerolog.DebugLevel, false).With(Fields{"component": "engine"})

		logger.Error(context.Background(), "grant failed", errors.New("boom"), Fields{"client_id": "c1"})

		line := decodeLine(t, &buf)
		assert.Equal(t, "grant failed", line["message"])
		assert.Equal(t, "boom", line["error"])
		assert.Equal(t, "c1", line["client_id"])
		assert.Equal(t, "engine", line["component"])
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewZerologAdapterWithWriter(&buf, zerolog.WarnLevel, false)
		logger.Info(context.Background(), "hidden")
		assert.Zero(t, buf.Len())
	})

	t.Run("adds trace ids", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewZerologAdapterWithWriter(&buf, zerolog.InfoLevel, false)

		tp := sdktrace.NewTracerProvider()
		ctx, span := tp.Tracer("test").Start(context.Background(), "op")
		defer span.End()

		logger.Info(ctx, "traced")
		line := decodeLine(t, &buf)
		assert.Equal(t, span.SpanContext().TraceID().String(), line["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), line["span_id"])
	})
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	level, err = ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)
}
