package policy

import (
	"context"
	"encoding/json"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/registry"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Gate translates subscribe/publish intents into policy-engine probes using
// the caller identity. Denial and engine failure are indistinguishable to
// callers: both report not-granted, and the detail stays in the logs.
type Gate struct {
	reg    *registry.Service
	engine Engine
	logger logpkg.Logger
}

// NewGate creates an authorization gate over the registry and policy
// engine.
func NewGate(reg *registry.Service, engine Engine, logger logpkg.Logger) *Gate {
	return &Gate{reg: reg, engine: engine, logger: logger.WithComponent("gate")}
}

// CheckSubscribe reports whether identity may subscribe to channelName.
// A missing or disabled channel denies outright; otherwise the channel-level
// policy object is probed under the caller's security context.
func (g *Gate) CheckSubscribe(ctx context.Context, channelName string, ident auth.Identity) bool {
	ch, ok := g.reg.Resolve(ctx, channelName)
	if !ok || !ch.Enabled {
		return false
	}
	granted, err := g.engine.ProbeRead(ctx, ObjectChannels, SecurityContext{
		Subject: ident.Subject,
		Role:    ident.Role,
		Channel: channelName,
	})
	if err != nil {
		g.logger.Debug("subscribe probe failed",
			logpkg.Str("channel", channelName),
			logpkg.Str("subject", ident.Subject),
			logpkg.Err(err),
		)
		return false
	}
	return granted
}

// CheckPublish reports whether identity may publish the given event to the
// already-resolved channel. The write is attempted against the
// message-level policy object with the candidate row; the caller commits
// the insert only on grant.
func (g *Gate) CheckPublish(ctx context.Context, ch *registry.Channel, channelName, event string, payload json.RawMessage, ident auth.Identity) bool {
	if ch == nil || !ch.Enabled {
		return false
	}
	row := map[string]interface{}{
		"channel":  channelName,
		"event":    event,
		"payload":  decodePayload(payload),
		"senderId": ident.Subject,
	}
	granted, err := g.engine.AttemptWrite(ctx, ObjectMessages, row, SecurityContext{
		Subject: ident.Subject,
		Role:    ident.Role,
		Channel: channelName,
		Event:   event,
	})
	if err != nil {
		g.logger.Debug("publish write attempt failed",
			logpkg.Str("channel", channelName),
			logpkg.Str("event", event),
			logpkg.Str("subject", ident.Subject),
			logpkg.Err(err),
		)
		return false
	}
	return granted
}

// decodePayload exposes the payload to policy expressions as structured
// data when it parses, or as a raw string otherwise.
func decodePayload(payload json.RawMessage) interface{} {
	if len(payload) == 0 {
		return map[string]interface{}{}
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	return v
}
