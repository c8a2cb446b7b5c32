package store

import (
	"context"

	"e2ee-channels/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type JoinRequestStore struct{ db *gorm.DB }

func (s *Store) JoinRequests() *JoinRequestStore { return &JoinRequestStore{db: s.DB} }

// Ensure records a pending request; a repeated request is a no-op. It reports
// whether a new row was created. A zero CreatedAt is filled in on insert.
func (j *JoinRequestStore) Ensure(ctx context.Context, req *domain.JoinRequest) (bool, error) {
	res := j.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(req)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (j *JoinRequestStore) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]domain.JoinRequest, error) {
	var reqs []domain.JoinRequest
	err := j.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	return reqs, nil
}

// Delete removes a pending request and returns ErrRecordNotFound when there was none.
func (j *JoinRequestStore) Delete(ctx context.Context, channelID, userID uuid.UUID) error {
	res := j.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&domain.JoinRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (j *JoinRequestStore) DeleteByChannel(ctx context.Context, channelID uuid.UUID) (int64, error) {
	res := j.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&domain.JoinRequest{})
	return res.RowsAffected, res.Error
}
