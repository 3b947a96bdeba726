package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/webhook"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

// LocalIDPrefix marks provider ids generated for messages written by the
// chat client rather than received from the provider.
const LocalIDPrefix = "local-"

type MessageRepository interface {
	reconciler.MessageStore
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)
	ListAll(ctx context.Context) ([]*model.Message, error)
}

// PayloadPublisher hands raw webhook payloads to the async pipeline.
type PayloadPublisher interface {
	Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error)
}

type MessageService struct {
	messageRepo MessageRepository
	reconciler  *reconciler.Reconciler
	notifier    reconciler.Notifier
	publisher   PayloadPublisher
	now         func() time.Time
	newID       func() string
}

func NewMessageService(messageRepo MessageRepository, rec *reconciler.Reconciler, notifier reconciler.Notifier, publisher PayloadPublisher) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		reconciler:  rec,
		notifier:    notifier,
		publisher:   publisher,
		now:         time.Now,
		newID:       func() string { return LocalIDPrefix + uuid.NewString() },
	}
}

// Ingest applies one provider payload synchronously.
func (s *MessageService) Ingest(ctx context.Context, raw []byte) ([]reconciler.Outcome, error) {
	return s.reconciler.Ingest(ctx, raw)
}

// Enqueue validates the payload and publishes it for the processor. It
// returns the stream id of the queued delivery.
func (s *MessageService) Enqueue(ctx context.Context, raw []byte) (string, error) {
	if s.publisher == nil {
		return "", fmt.Errorf("services: async ingestion is not configured")
	}
	if err := webhook.Validate(raw); err != nil {
		return "", err
	}
	id, err := s.publisher.Publish(ctx, raw, map[string]string{
		"received_at": s.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("services: enqueue payload: %w", err)
	}
	return id, nil
}

func (s *MessageService) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	messages, err := s.messageRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("services: list conversations: %w", err)
	}
	return model.BuildConversations(messages), nil
}

func (s *MessageService) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, model.ErrConversationRequired
	}
	messages, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("services: list messages: %w", err)
	}
	return messages, nil
}

// SendOutgoing stores a message written by the chat client. Nothing is sent
// to the provider; the record only gets local ids.
func (s *MessageService) SendOutgoing(ctx context.Context, p model.SendRequest) (*model.Message, error) {
	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	id := s.newID()
	m := &model.Message{
		ConversationID:    p.ConversationID,
		DisplayName:       p.DisplayName,
		SenderNumber:      p.SenderNumber,
		Body:              p.Body,
		SentAt:            s.now(),
		Status:            model.MessageStatusSent,
		ProviderMessageID: id,
		MetaMessageID:     id,
	}
	if m.DisplayName == "" {
		m.DisplayName = model.DefaultDisplayName
	}

	created, err := s.messageRepo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("services: send message: %w", err)
	}

	logger.Info("outgoing message stored",
		"id", created.ID,
		"wa_id", created.ConversationID,
		"message_id", created.ProviderMessageID)

	if s.notifier != nil {
		s.notifier.Notify(ctx, reconciler.Inserted(created))
	}
	return created, nil
}
