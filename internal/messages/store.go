package messages

import (
	"context"
	"encoding/json"
	"errors"

	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// ErrNotFound is returned when a message id is unknown.
var ErrNotFound = errors.New("messages: not found")

// Store persists messages and their delivery counters.
type Store struct {
	db     *pebblestore.DB
	logger logpkg.Logger
}

// NewStore creates a message store over db.
func NewStore(db *pebblestore.DB, logger logpkg.Logger) *Store {
	return &Store{db: db, logger: logger.WithComponent("messages")}
}

// Insert persists msg atomically: both the row and the id index land in one
// batch commit, or neither does.
func (s *Store) Insert(ctx context.Context, msg *Message) error {
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(msg.Channel, msg.ID), bytes, nil); err != nil {
		return err
	}
	if err := b.Set(msgIDKey(msg.ID), []byte(msg.Channel), nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, b)
}

// Get returns the message with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Message, error) {
	channel, err := s.db.Get(msgIDKey(id))
	if err != nil || len(channel) == 0 {
		return nil, ErrNotFound
	}
	b, err := s.db.Get(msgKey(string(channel), id))
	if err != nil || len(b) == 0 {
		return nil, ErrNotFound
	}
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByChannel returns up to limit messages for a resolved channel name in
// publish order. A non-positive limit means no bound.
func (s *Store) ListByChannel(ctx context.Context, channel string, limit int) ([]*Message, error) {
	var out []*Message
	err := s.db.ScanPrefix(msgChannelPrefix(channel), func(key, value []byte) bool {
		var msg Message
		if err := json.Unmarshal(value, &msg); err == nil {
			out = append(out, &msg)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// SetAudience records the WS and webhook audience counts. The write is
// one-shot: later calls for the same message are no-ops.
func (s *Store) SetAudience(ctx context.Context, id string, wsAudience, webhookAudience int) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.AudienceRecorded {
		return nil
	}
	msg.WSAudience = wsAudience
	msg.WebhookAudience = webhookAudience
	msg.AudienceRecorded = true
	return s.rewrite(ctx, msg)
}

// SetWebhookDelivered records the webhook delivered count reported by the
// external dispatcher. Idempotent: the first write wins.
func (s *Store) SetWebhookDelivered(ctx context.Context, id string, delivered int) error {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if msg.DeliveryRecorded {
		return nil
	}
	msg.WebhookDelivered = delivered
	msg.DeliveryRecorded = true
	return s.rewrite(ctx, msg)
}

func (s *Store) rewrite(ctx context.Context, msg *Message) error {
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Set(msgKey(msg.Channel, msg.ID), bytes)
}
