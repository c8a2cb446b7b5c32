package store

import (
	"context"

	"e2ee-channels/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChannelStore struct{ db *gorm.DB }

func (s *Store) Channels() *ChannelStore { return &ChannelStore{db: s.DB} }

func (c *ChannelStore) Create(ctx context.Context, ch *domain.Channel) error {
	return translate(c.db.WithContext(ctx).Create(ch).Error)
}

func (c *ChannelStore) Get(ctx context.Context, id uuid.UUID) (*domain.Channel, error) {
	var ch domain.Channel
	if err := c.db.WithContext(ctx).First(&ch, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

func (c *ChannelStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&domain.Channel{}).Where("slug = ?", slug).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *ChannelStore) List(ctx context.Context) ([]domain.Channel, error) {
	var chans []domain.Channel
	if err := c.db.WithContext(ctx).Order("slug ASC").Find(&chans).Error; err != nil {
		return nil, err
	}
	return chans, nil
}

func (c *ChannelStore) Delete(ctx context.Context, id uuid.UUID) error {
	res := c.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Channel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
