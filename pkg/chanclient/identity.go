package chanclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
)

// Identity is the local account state: the user's box key pair and session
// token. The private key is persisted only to the local state file.
type Identity struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	BaseURL    string `json:"base_url"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
	Token      string `json:"token,omitempty"`
}

// KeyPair decodes the stored key pair.
func (id *Identity) KeyPair() (cryptobox.KeyPair, error) {
	if id == nil {
		return cryptobox.KeyPair{}, errors.New("chanclient: no identity")
	}
	pub, err := cryptobox.DecodeKey(id.PublicKey)
	if err != nil {
		return cryptobox.KeyPair{}, fmt.Errorf("public key: %w", err)
	}
	priv, err := cryptobox.DecodeKey(id.PrivateKey)
	if err != nil {
		return cryptobox.KeyPair{}, fmt.Errorf("private key: %w", err)
	}
	return cryptobox.KeyPair{Public: pub, Private: priv}, nil
}

// Register generates a key pair locally and creates the account with its
// public half.
func (c *Client) Register(ctx context.Context, email, password, name string) (*Identity, error) {
	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	defer cryptobox.Wipe(kp.Private)

	req := dto.RegisterRequest{
		Email:     email,
		Password:  password,
		Name:      name,
		PublicKey: cryptobox.Encode(kp.Public),
	}
	var res dto.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/register", req, &res); err != nil {
		return nil, err
	}
	id := &Identity{
		UserID:     res.UserID,
		Email:      email,
		BaseURL:    c.baseURL,
		PublicKey:  req.PublicKey,
		PrivateKey: cryptobox.Encode(kp.Private),
	}
	c.identity = id
	return id, nil
}

func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if id.UserID == "" || id.PrivateKey == "" {
		return nil, errors.New("state file missing identity")
	}
	return &id, nil
}

// Save writes the identity atomically with owner-only permissions.
func (id *Identity) Save(path string) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
