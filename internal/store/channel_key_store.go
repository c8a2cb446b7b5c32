package store

import (
	"context"

	"e2ee-channels/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelKeyStore struct{ db *gorm.DB }

func (s *Store) ChannelKeys() *ChannelKeyStore { return &ChannelKeyStore{db: s.DB} }

// AddBatch inserts every row in one statement.
func (k *ChannelKeyStore) AddBatch(ctx context.Context, keys []domain.ChannelKey) error {
	if len(keys) == 0 {
		return nil
	}
	return translate(k.db.WithContext(ctx).Create(&keys).Error)
}

func (k *ChannelKeyStore) Add(ctx context.Context, key *domain.ChannelKey) error {
	return translate(k.db.WithContext(ctx).Create(key).Error)
}

func (k *ChannelKeyStore) Get(ctx context.Context, channelID, userID uuid.UUID) (*domain.ChannelKey, error) {
	var key domain.ChannelKey
	if err := k.db.WithContext(ctx).First(&key, "channel_id = ? AND user_id = ?", channelID, userID).Error; err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

// GetShared reads a row under a share lock so it cannot be deleted until the
// surrounding transaction ends. sqlite ignores the locking clause.
func (k *ChannelKeyStore) GetShared(ctx context.Context, channelID, userID uuid.UUID) (*domain.ChannelKey, error) {
	var key domain.ChannelKey
	err := k.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		First(&key, "channel_id = ? AND user_id = ?", channelID, userID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

func (k *ChannelKeyStore) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.ChannelKey, error) {
	var keys []domain.ChannelKey
	err := k.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC, user_id ASC").
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ListByUser returns the user's rows, optionally narrowed to one channel.
func (k *ChannelKeyStore) ListByUser(ctx context.Context, userID uuid.UUID, channelID *uuid.UUID) ([]domain.ChannelKey, error) {
	var keys []domain.ChannelKey
	tx := k.db.WithContext(ctx).Where("user_id = ?", userID)
	if channelID != nil {
		tx = tx.Where("channel_id = ?", *channelID)
	}
	if err := tx.Order("created_at ASC").Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (k *ChannelKeyStore) NonceUsed(ctx context.Context, channelID uuid.UUID, nonce string) (bool, error) {
	var n int64
	err := k.db.WithContext(ctx).
		Model(&domain.ChannelKey{}).
		Where("channel_id = ? AND nonce = ?", channelID, nonce).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (k *ChannelKeyStore) DeleteByChannel(ctx context.Context, channelID uuid.UUID) (int64, error) {
	res := k.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&domain.ChannelKey{})
	return res.RowsAffected, res.Error
}
