package state_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_EndSessionMarker(t *testing.T) {
	c := state.New(nil)

	require.True(t, c.ApplyIntent(domain.EndSession("current_turn")))

	got := c.Get(state.KeyPendingEndSession)
	require.NotNil(t, got)
	assert.Equal(t, domain.PendingEnd{After: "current_turn"}, got)

	pending, ok := c.PendingEnd()
	require.True(t, ok)
	assert.Equal(t, "current_turn", pending.After)
	assert.True(t, c.Active(), "EndSession only marks, the orchestrator ends the session")
}

func TestController_Intents(t *testing.T) {
	c := state.New(map[string]any{"mode": "interactive"})

	n := c.ApplyIntents([]domain.Intent{
		domain.SuppressAudio(true),
		domain.SuppressTranscript(false),
		domain.SetPendingMessage("your booking is confirmed"),
		{Type: domain.IntentSuppressAudio},
	})
	assert.Equal(t, 4, n)

	assert.Equal(t, true, c.Get(state.KeySuppressAudio))
	assert.Equal(t, false, c.Get(state.KeySuppressTranscript))

	msg, ok := c.TakePendingMessage()
	require.True(t, ok)
	assert.Equal(t, "your booking is confirmed", msg)
	_, ok = c.TakePendingMessage()
	assert.False(t, ok, "pending message is consumed once")
}

func TestController_UnknownIntentIsIgnored(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := state.New(map[string]any{"mode": "interactive"}, state.WithLogger(logger))
	before := c.Snapshot()

	assert.NotPanics(t, func() {
		assert.False(t, c.ApplyIntent(domain.Intent{Type: "end_sesion"}))
	})
	assert.Equal(t, before, c.Snapshot())
	assert.Contains(t, buf.String(), "end_sesion")
}

func TestController_SnapshotIsIsolated(t *testing.T) {
	initial := map[string]any{"profile": map[string]any{"name": "Ana"}, "tags": []any{"a"}}
	c := state.New(initial)

	initial["profile"].(map[string]any)["name"] = "mutated"
	snap := c.Snapshot()
	assert.Equal(t, "Ana", snap["profile"].(map[string]any)["name"])

	snap["profile"].(map[string]any)["name"] = "changed"
	snap["tags"].([]any)[0] = "b"
	assert.Equal(t, "Ana", c.Get("profile").(map[string]any)["name"])
	assert.Equal(t, []any{"a"}, c.Get("tags"))
	assert.Equal(t, true, snap[state.KeyActive])
}

func TestController_View(t *testing.T) {
	c := state.New(map[string]any{"mode": "realtime", "active": false})
	v := c.View()

	assert.Equal(t, "realtime", v.Mode())
	assert.False(t, v.Active())

	c.Set("mode", "interactive")
	assert.Equal(t, "interactive", v.Mode(), "view reads through to the controller")
}
