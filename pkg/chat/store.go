package chat

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"wardflow/models"
)

// GormStore backs the conversation service with the relational store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conv, nil
}

func (s *GormStore) CreateConversation(ctx context.Context, ownerID uint, title string) (*models.Conversation, error) {
	conv := models.Conversation{UserID: ownerID, Title: title}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *GormStore) ListConversations(ctx context.Context, ownerID uint) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Messages").
		Where("user_id = ?", ownerID).
		Find(&convs).Error
	return convs, err
}

func (s *GormStore) InsertMessage(ctx context.Context, conversationID uint, role, text string) (*models.Message, error) {
	msg := models.Message{ConversationID: conversationID, Role: role, Text: text}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListRecentMessages selects the newest limit rows, then flips them so the
// caller sees the window oldest-first, ready for replay.
func (s *GormStore) ListRecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error) {
	sub := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit)

	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Table("(?) as recent", sub).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error
	return msgs, err
}
