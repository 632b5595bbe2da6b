package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rzbill/ripple/internal/auth"
	"github.com/rzbill/ripple/internal/messages"
	"github.com/rzbill/ripple/internal/policy"
	"github.com/rzbill/ripple/internal/registry"
	"github.com/rzbill/ripple/pkg/id"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// Meta is the envelope metadata attached to every fanned-out message.
type Meta struct {
	MessageID  string `json:"messageId"`
	Timestamp  int64  `json:"timestamp"`
	Channel    string `json:"channel"`
	SenderType string `json:"senderType"`
	SenderID   string `json:"senderId,omitempty"`
}

// Envelope is the broadcast payload delivered to room members.
type Envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
	Meta    Meta            `json:"meta"`
}

// Broadcaster delivers an envelope to every member of a channel room and
// returns the recipient count. The session manager implements this.
type Broadcaster interface {
	Broadcast(channel string, env Envelope) int
}

// Job describes one message to be delivered to webhook endpoints.
type Job struct {
	MessageID string
	Channel   string
	Event     string
	Payload   json.RawMessage
	Endpoints []string
}

// Dispatcher hands a job to the external webhook delivery collaborator.
// Delivery is asynchronous; the dispatcher reports back through
// UpdateDeliveryStats.
type Dispatcher interface {
	Dispatch(job Job)
}

// Pipeline is the atomic insert-then-fan-out path for published messages.
type Pipeline struct {
	reg    *registry.Service
	gate   *policy.Gate
	store  *messages.Store
	ids    *id.Generator
	bcast  Broadcaster
	disp   Dispatcher
	logger logpkg.Logger
}

// New creates a pipeline. bcast and disp may be nil in tests; a nil
// broadcaster fans out to nobody and a nil dispatcher drops webhook jobs.
func New(reg *registry.Service, gate *policy.Gate, store *messages.Store, bcast Broadcaster, disp Dispatcher, logger logpkg.Logger) *Pipeline {
	return &Pipeline{
		reg:    reg,
		gate:   gate,
		store:  store,
		ids:    id.NewGenerator(),
		bcast:  bcast,
		disp:   disp,
		logger: logger.WithComponent("pipeline"),
	}
}

// Publish resolves the channel, authorizes the write, persists the message,
// and fans it out. Returns policy.ErrUnauthorized when the channel is
// unknown, disabled, or the policy engine rejects the write; the caller
// cannot tell which.
func (p *Pipeline) Publish(ctx context.Context, channelName, event string, payload json.RawMessage, ident auth.Identity, senderType string) (*messages.Message, error) {
	start := time.Now()
	ch, ok := p.reg.Resolve(ctx, channelName)
	if !ok {
		return nil, policy.ErrUnauthorized
	}
	if !p.gate.CheckPublish(ctx, ch, channelName, event, payload, ident) {
		return nil, policy.ErrUnauthorized
	}

	msg := &messages.Message{
		ID:          p.ids.Next().String(),
		Channel:     channelName,
		Event:       event,
		Payload:     payload,
		SenderType:  senderType,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if senderType != messages.SenderTypeSystem {
		msg.SenderID = ident.Subject
	}
	if err := p.store.Insert(ctx, msg); err != nil {
		return nil, err
	}

	// Fan-out strictly follows the committed insert, so in-channel order
	// equals commit order.
	p.fanOut(ctx, ch, msg)

	p.logger.Debug("message published",
		logpkg.Str("channel", channelName),
		logpkg.Str("event", event),
		logpkg.Str("id", msg.ID),
		logpkg.Int("ws_audience", msg.WSAudience),
		logpkg.Dur("dur", time.Since(start)),
	)
	return msg, nil
}

// fanOut broadcasts to the room, records audience counts, and triggers the
// webhook dispatcher. Delivery beyond the trigger is the dispatcher's
// responsibility.
func (p *Pipeline) fanOut(ctx context.Context, ch *registry.Channel, msg *messages.Message) {
	env := Envelope{
		Event:   msg.Event,
		Channel: msg.Channel,
		Payload: msg.Payload,
		Meta: Meta{
			MessageID:  msg.ID,
			Timestamp:  msg.CreatedAtMs,
			Channel:    msg.Channel,
			SenderType: msg.SenderType,
			SenderID:   msg.SenderID,
		},
	}
	wsAudience := 0
	if p.bcast != nil {
		wsAudience = p.bcast.Broadcast(msg.Channel, env)
	}
	webhookAudience := len(ch.WebhookURLs)
	if err := p.store.SetAudience(ctx, msg.ID, wsAudience, webhookAudience); err != nil {
		p.logger.Error("record audience failed", logpkg.Str("id", msg.ID), logpkg.Err(err))
	}
	msg.WSAudience = wsAudience
	msg.WebhookAudience = webhookAudience
	msg.AudienceRecorded = true

	if webhookAudience > 0 && p.disp != nil {
		p.disp.Dispatch(Job{
			MessageID: msg.ID,
			Channel:   msg.Channel,
			Event:     msg.Event,
			Payload:   msg.Payload,
			Endpoints: ch.WebhookURLs,
		})
	}
}

// UpdateDeliveryStats records the webhook delivered count reported by the
// dispatcher. Idempotent.
func (p *Pipeline) UpdateDeliveryStats(ctx context.Context, messageID string, delivered int) error {
	return p.store.SetWebhookDelivered(ctx, messageID, delivered)
}
