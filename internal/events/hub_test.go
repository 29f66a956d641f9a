package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(8)

	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(InboxReset, map[string]any{"worker": "w1@host"})

	ev := <-ch
	assert.Equal(t, InboxReset, ev.Type)
	assert.Contains(t, string(ev.Data), "w1@host")
}

func TestSnapshotSince(t *testing.T) {
	h := NewHub(4)

	h.Publish(CommandReceived, nil)
	h.Publish(CommandUnknown, nil)
	h.Publish(CommandFailed, nil)

	all := h.SnapshotSince(0)
	require.Len(t, all, 3)
	assert.Equal(t, CommandReceived, all[0].Type)

	tail := h.SnapshotSince(all[1].ID)
	require.Len(t, tail, 1)
	assert.Equal(t, CommandFailed, tail[0].Type)
}

func TestRingOverwritesOldest(t *testing.T) {
	h := NewHub(2)

	h.Publish(InboxStarted, nil)
	h.Publish(InboxStopped, nil)
	h.Publish(InboxReset, nil)

	out := h.SnapshotSince(0)
	require.Len(t, out, 2)
	assert.Equal(t, InboxStopped, out[0].Type)
	assert.Equal(t, InboxReset, out[1].Type)
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(2)

	ch, cancel := h.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic.
	h.Publish(InboxStarted, nil)
}
