package dto

import "time"

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	PublicKey string `json:"publicKey,omitempty"`
}

type RegisterResponse struct {
	UserID         string `json:"userId"`
	HasKeyMaterial bool   `json:"hasKeyMaterial"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ProvisionKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

type PublicKeyResponse struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

// Member is a user eligible to receive a channel key.
type Member struct {
	UserID    string `json:"userId"`
	PublicKey string `json:"publicKey"`
}

type MembersResponse struct {
	Members []Member `json:"members"`
}

type UserData struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	Name      string       `json:"name"`
	PublicKey string       `json:"publicKey"`
	Channels  []WrappedKey `json:"channels"`
}
