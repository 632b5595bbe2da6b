package policy

import (
	"context"
	"errors"
)

// Policy-protected object names. Subscribe intent probes the channel-level
// object; publish intent attempts the write on the message-level object.
const (
	ObjectChannels = "channels"
	ObjectMessages = "messages"
)

// ErrUnauthorized marks an action denied by policy. Callers translate it
// into a structured denial; policy internals never cross this boundary.
var ErrUnauthorized = errors.New("policy: unauthorized")

// SecurityContext carries the caller identity for a single probe or write
// attempt. It is bound per call and never stored, so identity cannot leak
// across concurrent callers.
type SecurityContext struct {
	Subject string
	Role    string
	Channel string
	Event   string
}

// Engine is the row-level-security collaborator contract. Implementations
// must evaluate each call independently under the given security context.
type Engine interface {
	// ProbeRead reports whether the caller may read the named object.
	ProbeRead(ctx context.Context, object string, sctx SecurityContext) (bool, error)
	// AttemptWrite reports whether the caller may write row to the named
	// object. The row is not persisted by the engine; the caller commits
	// only on grant.
	AttemptWrite(ctx context.Context, object string, row map[string]interface{}, sctx SecurityContext) (bool, error)
}
