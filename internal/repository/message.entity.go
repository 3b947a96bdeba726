package repository

import (
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
)

type MessageEntity struct {
	ID        int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	WaID      string    `db:"wa_id"       gorm:"column:wa_id;not null;index:idx_processed_messages_wa_id,priority:1"`
	Name      string    `db:"name"        gorm:"column:name;not null"`
	Number    string    `db:"number"      gorm:"column:number;not null"`
	Message   string    `db:"message"     gorm:"column:message;type:text;not null"`
	Timestamp time.Time `db:"timestamp"   gorm:"column:timestamp;not null;index:idx_processed_messages_wa_id,priority:2"`
	Status    string    `db:"status"      gorm:"column:status;not null"`
	MessageID string    `db:"message_id"  gorm:"column:message_id;not null;index:idx_processed_messages_message_id"`
	MetaMsgID string    `db:"meta_msg_id" gorm:"column:meta_msg_id;not null;index:idx_processed_messages_meta_msg_id"`
	CreatedAt time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (MessageEntity) TableName() string {
	return "processed_messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:        m.ID,
		WaID:      m.ConversationID,
		Name:      m.DisplayName,
		Number:    m.SenderNumber,
		Message:   m.Body,
		Timestamp: m.SentAt.UTC(),
		Status:    string(m.Status),
		MessageID: m.ProviderMessageID,
		MetaMsgID: m.MetaMessageID,
		CreatedAt: m.CreatedAt,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                e.ID,
		ConversationID:    e.WaID,
		DisplayName:       e.Name,
		SenderNumber:      e.Number,
		Body:              e.Message,
		SentAt:            e.Timestamp,
		Status:            model.MessageStatus(e.Status),
		ProviderMessageID: e.MessageID,
		MetaMessageID:     e.MetaMsgID,
		CreatedAt:         e.CreatedAt,
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
