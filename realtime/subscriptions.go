// Package realtime implements the persistent bidirectional channel of the
// api backend and the subscription bookkeeping shared with the document
// backend's listener.
package realtime

import (
	"sort"
	"sync"

	"github.com/parosapp/paros-go/backend"
)

// Subscriptions is the local channel-to-handler registry. It deliberately
// outlives connections: a disconnect clears the remote registration only,
// and the registry is replayed on the next connect.
type Subscriptions struct {
	mu       sync.RWMutex
	handlers map[string]backend.MessageHandler
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{handlers: make(map[string]backend.MessageHandler)}
}

// Set registers fn for channel, replacing any previous handler. A channel
// has at most one handler; the last subscription wins.
func (s *Subscriptions) Set(channel string, fn backend.MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[channel] = fn
}

// Remove drops the channel's handler.
func (s *Subscriptions) Remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, channel)
}

// Channels returns the subscribed channel names sorted for deterministic
// replay order.
func (s *Subscriptions) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := make([]string, 0, len(s.handlers))
	for channel := range s.handlers {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Len returns the number of subscribed channels.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Dispatch delivers msg to the channel's handler, reporting whether one was
// registered. The handler runs on the caller's goroutine.
func (s *Subscriptions) Dispatch(msg backend.Message) bool {
	s.mu.RLock()
	fn := s.handlers[msg.Channel]
	s.mu.RUnlock()

	if fn == nil {
		return false
	}
	fn(msg)
	return true
}
