// Package ws is the client-facing WebSocket transport. It verifies the
// bearer token before upgrading, then speaks a small JSON frame protocol:
// subscribe/unsubscribe/publish inbound, ack/event/error/notice outbound.
// All session semantics live in the session manager; this package only
// moves frames.
package ws
