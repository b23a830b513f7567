package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest_Start(t *testing.T) {
	raw := []byte(`{"request_id":"r1","action":"start","plugin_id":"scoreboard",
		"mode":"scoreboard_recent","duration":20,"timestamp":1700000000}`)

	r, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "r1", r.RequestID)
	assert.Equal(t, ActionStart, r.Action)
	assert.Equal(t, "scoreboard", r.PluginID)
	assert.Equal(t, "scoreboard_recent", r.Mode)
	assert.InDelta(t, 20, r.Duration, 0.001)
	assert.False(t, r.Pinned)
}

func TestDecodeRequest_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":      `{"action":"start","plugin_id":"p"}`,
		"unknown action":  `{"request_id":"r","action":"pause"}`,
		"start no target": `{"request_id":"r","action":"start"}`,
		"negative dur":    `{"request_id":"r","action":"start","plugin_id":"p","duration":-5}`,
		"unknown field":   `{"request_id":"r","action":"stop","color":"red"}`,
		"not json":        `pixels`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRequest([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeRequest_StopNeedsNoTarget(t *testing.T) {
	r, err := DecodeRequest([]byte(`{"request_id":"r9","action":"stop"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionStop, r.Action)
}

func TestEncodeState_NullableFields(t *testing.T) {
	data, err := EncodeState(&State{
		Status:      "idle",
		Modes:       []string{},
		LastUpdated: 123.5,
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	// The control plane distinguishes null from absent; both must be
	// present as explicit nulls when idle.
	for _, field := range []string{"mode", "plugin_id", "requested_at", "expires_at", "remaining", "last_event", "last_error"} {
		v, ok := m[field]
		require.True(t, ok, "field %s must be present", field)
		assert.Nil(t, v, "field %s must be null", field)
	}
	assert.Equal(t, false, m["active"])
	assert.Equal(t, "idle", m["status"])
}

func TestSessionRoundTrip(t *testing.T) {
	s := &Session{
		Request: Request{
			RequestID: "r7",
			Action:    ActionStart,
			PluginID:  "weather",
			Duration:  60,
		},
		StartedAt: 1000,
		ExpiresAt: 1060,
		ResumeIdx: 3,
	}
	data, err := EncodeSession(s)
	require.NoError(t, err)

	got, err := DecodeSession(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}
