package kolibri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	msg := normalize(`{"type":"result","payload":42}`)
	require.NotNil(t, msg.Event)
	assert.Equal(t, EventResult, msg.Type())
	assert.EqualValues(t, 42, msg.Event.Payload)
	assert.False(t, msg.IsRaw())
	assert.True(t, msg.IsTerminal())

	msg = normalize("ping")
	assert.True(t, msg.IsRaw())
	assert.Equal(t, "ping", msg.Value)
	assert.Nil(t, msg.Event)
	assert.False(t, msg.IsTerminal())

	msg = normalize(`{"type":"state","step":3,"timestamp":"t0","payload":{"pc":1}}`)
	require.NotNil(t, msg.Event)
	require.NotNil(t, msg.Event.Step)
	assert.Equal(t, 3, *msg.Event.Step)
	assert.Equal(t, "t0", msg.Event.Timestamp)
	assert.Equal(t, map[string]any{"pc": float64(1)}, msg.Event.Payload)
	assert.False(t, msg.IsTerminal())
}

func TestNormalizeNonEventJSON(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want any
	}{
		{`[1,2]`, []any{float64(1), float64(2)}},
		{`"quoted"`, "quoted"},
		{`{"kind":"x"}`, map[string]any{"kind": "x"}},
		{`{"type":7}`, map[string]any{"type": float64(7)}},
		{``, ""},
	}
	for _, tc := range cases {
		msg := normalize(tc.raw)
		assert.Equal(t, tc.want, msg.Value, tc.raw)
		assert.Nil(t, msg.Event, tc.raw)
		assert.Equal(t, tc.raw, msg.Raw)
	}
}

func TestNormalizeKeepsTypeWhenOptionalFieldsMismatch(t *testing.T) {
	t.Parallel()

	msg := normalize(`{"type":"state","step":"three"}`)
	require.NotNil(t, msg.Event)
	assert.Equal(t, EventState, msg.Type())
	assert.Nil(t, msg.Event.Step)
	assert.Equal(t, map[string]any{"type": "state", "step": "three"}, msg.Value)

	msg = normalize(`{"type":"state","step":1.5}`)
	assert.Equal(t, EventState, msg.Type())
	assert.Nil(t, msg.Event.Step)

	msg = normalize(`{"type":"state","step":3,"timestamp":"2024-01-01T00:00:00Z"}`)
	require.NotNil(t, msg.Event.Step)
	assert.Equal(t, 3, *msg.Event.Step)
	assert.Equal(t, "2024-01-01T00:00:00Z", msg.Event.Timestamp)
}

func TestNormalizeTerminalWithNumericTimestamp(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"type":"result","timestamp":1700000000000,"payload":42}`,
		`{"type":"result","step":1.5,"payload":42}`,
		`{"type":"result","step":"3","payload":42}`,
	} {
		msg := normalize(raw)
		require.NotNil(t, msg.Event, raw)
		assert.Equal(t, EventResult, msg.Type(), raw)
		assert.True(t, msg.IsTerminal(), raw)
		assert.EqualValues(t, 42, msg.Event.Payload, raw)
		assert.Empty(t, msg.Event.Timestamp, raw)
	}
}

func TestTerminalTypes(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{EventComplete, EventResult, EventError} {
		assert.True(t, normalize(`{"type":"`+kind+`"}`).IsTerminal(), kind)
	}
	for _, kind := range []string{EventState, EventLog, "custom"} {
		assert.False(t, normalize(`{"type":"`+kind+`"}`).IsTerminal(), kind)
	}
}
