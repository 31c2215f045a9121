package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chatrelay/internal/model"
)

type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(chat *model.Chat) error {
	if err := r.db.Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) List() ([]model.Chat, error) {
	var chats []model.Chat
	if err := r.db.Order("updated_at DESC").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

func (r *ChatRepository) GetByID(chatID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := r.db.First(&chat, chatID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

func (r *ChatRepository) UpdateTitle(chatID uint, title string) error {
	if err := r.db.Model(&model.Chat{}).Where("id = ?", chatID).Update("title", title).Error; err != nil {
		return fmt.Errorf("update chat title failed: %w", err)
	}
	return nil
}

func (r *ChatRepository) DeleteByID(chatID uint) error {
	if err := r.db.Delete(&model.Chat{}, chatID).Error; err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	return nil
}
