package ws

import "encoding/json"

// Inbound frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	framePing        = "ping"
)

// clientFrame is the single inbound message shape. Unused fields are
// ignored per frame type.
type clientFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// pong answers an application-level ping.
type pong struct {
	Type string `json:"type"`
}
