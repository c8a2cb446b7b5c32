package store

import (
	"context"
	"slices"

	"e2ee-channels/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return translate(m.db.WithContext(ctx).Create(msg).Error)
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// ListByChannel returns the newest limit messages, oldest first. limit <= 0
// means no limit.
func (m *MessageStore) ListByChannel(ctx context.Context, channelID uuid.UUID, limit int) ([]domain.Message, error) {
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (m *MessageStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := m.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteByChannel removes every message of the channel and returns the
// deleted rows so callers can announce them.
func (m *MessageStore) DeleteByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := m.db.WithContext(ctx).Where("channel_id = ?", channelID).Find(&msgs).Error; err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := m.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&domain.Message{}).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
