package model

import (
	"errors"
	"time"
)

// MessageStatus is the provider delivery state of a message. The provider
// may introduce new values at any time, so it is kept as an open string.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

const (
	DefaultDisplayName = "Unknown"
	DefaultBody        = "Media/Other Message"
)

var (
	ErrConversationRequired = errors.New("wa_id is required")
	ErrEmptyBody            = errors.New("message cannot be empty")
)

type Message struct {
	ID                int64         `json:"id"`
	ConversationID    string        `json:"wa_id"`
	DisplayName       string        `json:"name"`
	SenderNumber      string        `json:"number"`
	Body              string        `json:"message"`
	SentAt            time.Time     `json:"timestamp"`
	Status            MessageStatus `json:"status"`
	ProviderMessageID string        `json:"message_id"`
	MetaMessageID     string        `json:"meta_msg_id"`
	CreatedAt         time.Time     `json:"created_at"`
}

// SendRequest is the input of an outgoing message written by the chat client.
type SendRequest struct {
	ConversationID string `json:"wa_id"`
	DisplayName    string `json:"name"`
	SenderNumber   string `json:"number"`
	Body           string `json:"message"`
}

func (p SendRequest) Validate() error {
	if p.ConversationID == "" {
		return ErrConversationRequired
	}
	if p.Body == "" {
		return ErrEmptyBody
	}
	return nil
}
