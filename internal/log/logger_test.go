package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureOnce(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "test-svc"})
	// Second call must not replace the writer.
	Configure(Config{Output: bytes.NewBuffer(nil), Service: "other"})

	l := WithComponent("engine")
	l.Info().Str(FieldEvent, "test.event").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-svc", entry["service"])
	assert.Equal(t, "engine", entry[FieldComponent])
	assert.Equal(t, "test.event", entry[FieldEvent])
}

func TestWithComponentFromContext(t *testing.T) {
	ctx := ContextWithRequestID(t.Context(), "req-42")
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
	// Logger derivation must not panic on a bare context either.
	_ = WithComponentFromContext(t.Context(), "channel")
	_ = WithComponentFromContext(ctx, "channel")
}
