package dto

import "time"

type Channel struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	CreatedByID string    `json:"createdById"`
	CreatedAt   time.Time `json:"createdAt"`
	Joined      bool      `json:"joined"`
}

type ChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

// WrappedKey is a stored channel-key row. WrappedByPublicKey is filled when
// the row is returned to its recipient so it can be opened without another
// lookup.
type WrappedKey struct {
	ChannelID          string    `json:"channelId"`
	UserID             string    `json:"userId"`
	WrappedByID        string    `json:"wrappedById"`
	WrappedByPublicKey string    `json:"wrappedByPublicKey,omitempty"`
	EncryptedKey       string    `json:"encryptedKey"`
	Nonce              string    `json:"nonce"`
	CreatedAt          time.Time `json:"createdAt"`
}

type WrappedKeyInput struct {
	UserID       string `json:"userId"`
	EncryptedKey string `json:"encryptedKey"`
	Nonce        string `json:"nonce"`
}

type CreateChannelRequest struct {
	Slug string            `json:"slug"`
	Keys []WrappedKeyInput `json:"keys"`
}

type CreateChannelResponse struct {
	Channel Channel `json:"channel"`
	Members int     `json:"members"`
}

const (
	JoinPending = "pending"
	JoinJoined  = "joined"
)

type JoinResponse struct {
	ChannelID string `json:"channelId"`
	Status    string `json:"status"`
}

type JoinRequest struct {
	ChannelID   string    `json:"channelId"`
	UserID      string    `json:"userId"`
	PublicKey   string    `json:"publicKey"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PendingJoinsResponse carries everything the anchor holder needs to re-wrap
// the group key for each pending joiner.
type PendingJoinsResponse struct {
	ChannelID        string        `json:"channelId"`
	Anchor           WrappedKey    `json:"anchor"`
	CreatorPublicKey string        `json:"creatorPublicKey"`
	UsedNonces       []string      `json:"usedNonces"`
	Requests         []JoinRequest `json:"requests"`
}
