package messages

import "encoding/json"

// Sender types recorded on messages.
const (
	SenderTypeUser   = "user"
	SenderTypeSystem = "system"
)

// Message is a persisted channel message. Rows are immutable except for the
// delivery counters: the audience pair is recorded exactly once after
// fan-out, and the delivered count exactly once by the webhook dispatcher
// callback.
type Message struct {
	ID         string          `json:"id"`
	Channel    string          `json:"channel"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	SenderType string          `json:"senderType"`
	SenderID   string          `json:"senderId,omitempty"`

	WSAudience       int `json:"wsAudienceCount"`
	WebhookAudience  int `json:"webhookAudienceCount"`
	WebhookDelivered int `json:"webhookDeliveredCount"`

	// Recorded flags make the counter writes one-shot and idempotent.
	AudienceRecorded bool `json:"audienceRecorded,omitempty"`
	DeliveryRecorded bool `json:"deliveryRecorded,omitempty"`

	CreatedAtMs int64 `json:"createdAtMs"`
}
