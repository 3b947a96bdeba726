package webhook

import "github.com/nimasrn/webhook-inbox/internal/model"

// Event is one normalized provider event. It is either a MessageReceived or
// a StatusUpdated.
type Event interface {
	Name() string
}

// MessageReceived carries a fully defaulted record ready to be inserted.
type MessageReceived struct {
	Record *model.Message
}

func (MessageReceived) Name() string { return "message_received" }

// StatusUpdated moves an already stored message to a new delivery status.
// ProviderMessageID is matched against message_id and MetaMessageID against
// meta_msg_id; either may be empty.
type StatusUpdated struct {
	ProviderMessageID string
	MetaMessageID     string
	Status            model.MessageStatus
}

func (StatusUpdated) Name() string { return "status_updated" }

// Stats counts what a payload contained.
type Stats struct {
	Entries  int `json:"entries"`
	Messages int `json:"messages"`
	Statuses int `json:"statuses"`
	Skipped  int `json:"skipped"`
}
