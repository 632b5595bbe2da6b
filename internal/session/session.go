package session

import (
	"sync/atomic"
	"time"

	"github.com/rzbill/ripple/internal/auth"
)

// Sender delivers frames to one connection's transport. Implementations
// must be safe for concurrent use; the WebSocket layer provides one.
type Sender interface {
	SendJSON(v interface{}) error
	Close(reason string) error
}

// Session is the ephemeral per-connection state. It is created on
// transport connect, mutated on subscribe/unsubscribe/activity, and
// destroyed on genuine disconnect or idle eviction. Never persisted.
type Session struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time

	lastActivity int64 // unix nanos, atomic
	sender       Sender

	// subs is the subscription set; guarded by the Manager's lock.
	subs map[string]struct{}
}

// Touch refreshes the activity clock. Called on every inbound event.
func (s *Session) Touch() {
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

// LastActivity returns the time of the most recent inbound event.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivity))
}

// Send delivers a frame to the session's transport.
func (s *Session) Send(v interface{}) error {
	return s.sender.SendJSON(v)
}
