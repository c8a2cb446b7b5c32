package domain

import (
	"time"

	"github.com/google/uuid"
)

// User holds login credentials and the public half of the user's box key
// pair. The private half never leaves the client.
type User struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email          string    `gorm:"type:text;not null;uniqueIndex"`
	Name           string    `gorm:"type:text;not null"`
	PasswordHash   []byte    `gorm:"not null"`
	PasswordSalt   []byte    `gorm:"not null"`
	PasswordParams []byte    `gorm:"not null"`
	PublicKey      string    `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
}

func (u User) HasKeyMaterial() bool { return u.PublicKey != "" }

type Channel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Slug        string    `gorm:"type:text;not null;uniqueIndex"`
	CreatedByID uuid.UUID `gorm:"type:uuid;not null;index"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}

// ChannelKey is the channel group key wrapped for one member. WrappedByID is
// the user whose private key sealed the row.
type ChannelKey struct {
	ChannelID    uuid.UUID `gorm:"type:uuid;primaryKey;uniqueIndex:idx_channel_keys_channel_nonce,priority:1"`
	UserID       uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	WrappedByID  uuid.UUID `gorm:"type:uuid;not null"`
	EncryptedKey string    `gorm:"type:text;not null"`
	Nonce        string    `gorm:"type:text;not null;uniqueIndex:idx_channel_keys_channel_nonce,priority:2"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

// JoinRequest is a pending join waiting for the anchor holder to re-wrap the
// group key.
type JoinRequest struct {
	ChannelID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Message content is base64 ciphertext when Nonce is set, plaintext otherwise.
type Message struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChannelID       uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_channel_created,priority:1"`
	UserID          uuid.UUID `gorm:"type:uuid;not null"`
	Content         string    `gorm:"type:text;not null"`
	Nonce           string    `gorm:"type:text;not null;default:''"`
	SenderPublicKey string    `gorm:"type:text;not null;default:''"`
	CreatedAt       time.Time `gorm:"not null;index:idx_messages_channel_created,priority:2"`
}

func (m Message) Encrypted() bool { return m.Nonce != "" }

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&User{}, &Channel{}, &ChannelKey{}, &JoinRequest{}, &Message{}}
}
