package store

import (
	"context"

	"e2ee-channels/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

func (u *UserStore) Create(ctx context.Context, user *domain.User) error {
	return translate(u.db.WithContext(ctx).Create(user).Error)
}

func (u *UserStore) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// SetPublicKey stores the key only when none is set yet. It reports whether a
// row was updated.
func (u *UserStore) SetPublicKey(ctx context.Context, id uuid.UUID, publicKey string) (bool, error) {
	res := u.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ? AND public_key = ''", id).
		Update("public_key", publicKey)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// WithKeyMaterial lists users eligible for channel key distribution.
func (u *UserStore) WithKeyMaterial(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	err := u.db.WithContext(ctx).
		Where("public_key <> ''").
		Order("created_at ASC, id ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (u *UserStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []domain.User
	if err := u.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
