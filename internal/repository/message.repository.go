package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	byTimestamp = clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}
	byID        = clause.OrderByColumn{Column: clause.Column{Name: "id"}}
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Create inserts the record as given. It never looks for an existing row
// with the same provider ids.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)
	entity.ID = 0

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// UpdateStatusFirstMatch overwrites the status of the lowest-id record whose
// message_id equals providerID or whose meta_msg_id equals metaID. Empty ids
// are left out of the predicate and two empty ids match nothing.
//
// Provider ids are not unique, so when a delivery was replayed only the
// oldest copy follows later status changes.
func (r *MessageRepository) UpdateStatusFirstMatch(ctx context.Context, providerID, metaID string, status model.MessageStatus) (int64, bool, error) {
	if providerID == "" && metaID == "" {
		return 0, false, nil
	}

	q := r.Write(ctx).Model(&MessageEntity{})
	switch {
	case providerID != "" && metaID != "":
		q = q.Where("message_id = ? OR meta_msg_id = ?", providerID, metaID)
	case providerID != "":
		q = q.Where("message_id = ?", providerID)
	default:
		q = q.Where("meta_msg_id = ?", metaID)
	}

	var entity MessageEntity
	err := q.Select("id").Order(byID).Take(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	err = r.Write(ctx).
		Model(&MessageEntity{}).
		Where("id = ?", entity.ID).
		Update("status", string(status)).
		Error
	if err != nil {
		return 0, false, err
	}

	return entity.ID, true, nil
}

// ListByConversation returns the conversation oldest first.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	var entities []*MessageEntity
	err := r.Read(ctx).
		Where("wa_id = ?", conversationID).
		Order(byTimestamp).
		Order(byID).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}

// ListAll returns every stored record in insertion order.
func (r *MessageRepository) ListAll(ctx context.Context) ([]*model.Message, error) {
	var entities []*MessageEntity
	if err := r.Read(ctx).Order(byID).Find(&entities).Error; err != nil {
		return nil, err
	}
	return toMessageModels(entities), nil
}
