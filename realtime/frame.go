package realtime

import "encoding/json"

// frame is the websocket wire message. The client sends subscribe,
// unsubscribe and publish frames; the server sends hello, ack, error and
// event frames. A client frame carrying an id requests an acknowledgement,
// and the matching ack or error frame echoes that id.
type frame struct {
	ID      uint64          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	frameHello       = "hello"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	frameEvent       = "event"
	frameAck         = "ack"
	frameError       = "error"
)
