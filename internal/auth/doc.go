// Package auth verifies bearer credentials presented at the WebSocket
// handshake and extracts the caller identity (subject, role) consumed by
// the policy engine.
package auth
