package dto

import "time"

// AddMessageRequest carries base64 ciphertext and nonce. An empty Nonce marks
// a plaintext message.
type AddMessageRequest struct {
	Content   string `json:"content"`
	Nonce     string `json:"nonce,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
}

type Message struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channelId"`
	UserID          string    `json:"userId"`
	Content         string    `json:"content"`
	Nonce           string    `json:"nonce,omitempty"`
	SenderPublicKey string    `json:"senderPublicKey,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

type ClearMessagesResponse struct {
	Deleted int `json:"deleted"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
