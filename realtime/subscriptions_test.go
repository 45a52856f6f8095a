package realtime_test

import (
	"encoding/json"
	"testing"

	"github.com/parosapp/paros-go/backend"
	"github.com/parosapp/paros-go/realtime"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionsLastSubscribeWins(t *testing.T) {
	subs := realtime.NewSubscriptions()

	var first, second int
	subs.Set("chat-1", func(msg backend.Message) { first++ })
	subs.Set("chat-1", func(msg backend.Message) { second++ })

	handled := subs.Dispatch(backend.Message{Channel: "chat-1", Payload: json.RawMessage(`{}`)})
	require.True(t, handled)
	require.Zero(t, first, "replaced handler must not fire")
	require.Equal(t, 1, second)
	require.Equal(t, 1, subs.Len())
}

func TestSubscriptionsDispatchUnknownChannel(t *testing.T) {
	subs := realtime.NewSubscriptions()
	handled := subs.Dispatch(backend.Message{Channel: "nope"})
	require.False(t, handled)
}

func TestSubscriptionsRemove(t *testing.T) {
	subs := realtime.NewSubscriptions()
	subs.Set("chat-1", func(msg backend.Message) {})
	subs.Remove("chat-1")

	require.Zero(t, subs.Len())
	require.False(t, subs.Dispatch(backend.Message{Channel: "chat-1"}))
}

func TestSubscriptionsChannelsSorted(t *testing.T) {
	subs := realtime.NewSubscriptions()
	subs.Set("chat-2", func(msg backend.Message) {})
	subs.Set("alerts", func(msg backend.Message) {})
	subs.Set("chat-1", func(msg backend.Message) {})

	require.Equal(t, []string{"alerts", "chat-1", "chat-2"}, subs.Channels())
}
