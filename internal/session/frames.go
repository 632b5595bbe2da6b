package session

import "github.com/rzbill/ripple/internal/pipeline"

// Client-facing error codes. Policy internals never appear here.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNotSubscribed = "NOT_SUBSCRIBED"
	CodeInternal      = "INTERNAL"
)

// ErrorInfo is the structured error carried by acks and error events.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack acknowledges a subscribe request.
type Ack struct {
	Type    string     `json:"type"`
	OK      bool       `json:"ok"`
	Channel string     `json:"channel"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorEvent is an asynchronous error emitted for fire-and-forget
// operations such as publish.
type ErrorEvent struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notice is a server-wide announcement, used for shutdown.
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EventFrame wraps a fan-out envelope for the wire.
type EventFrame struct {
	Type string `json:"type"`
	pipeline.Envelope
}

func okAck(channel string) Ack {
	return Ack{Type: "ack", OK: true, Channel: channel}
}

func failAck(channel, code, message string) Ack {
	return Ack{Type: "ack", OK: false, Channel: channel, Error: &ErrorInfo{Code: code, Message: message}}
}
