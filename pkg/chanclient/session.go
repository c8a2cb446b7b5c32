package chanclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/keydist"

	"github.com/google/uuid"
)

// Session caches unwrapped channel keys for the lifetime of a login. Keys
// are loaded by SelectChannel and zeroed by Forget or Close.
type Session struct {
	client *Client
	keys   cryptobox.KeyPair

	mu       sync.RWMutex
	channels map[string][]byte
	active   string
}

func (c *Client) NewSession() (*Session, error) {
	if c.token == "" {
		return nil, ErrNotLoggedIn
	}
	kp, err := c.identity.KeyPair()
	if err != nil {
		return nil, err
	}
	return &Session{client: c, keys: kp, channels: make(map[string][]byte)}, nil
}

// SelectChannel makes channelID active, unwrapping its key on first use.
// Non-members get ErrNoChannelKey; messages then render as placeholders.
func (s *Session) SelectChannel(ctx context.Context, channelID string) error {
	s.mu.RLock()
	_, cached := s.channels[channelID]
	s.mu.RUnlock()
	if !cached {
		if err := s.loadKey(ctx, channelID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.active = channelID
	s.mu.Unlock()
	return nil
}

func (s *Session) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) loadKey(ctx context.Context, channelID string) error {
	data, err := s.client.UserData(ctx, channelID)
	if err != nil {
		return err
	}
	var row *dto.WrappedKey
	for i := range data.Channels {
		if data.Channels[i].ChannelID == channelID {
			row = &data.Channels[i]
			break
		}
	}
	if row == nil {
		return fmt.Errorf("%w: %s", ErrNoChannelKey, channelID)
	}
	key, err := unwrapRow(*row, s.keys.Private)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.channels[channelID]; ok {
		cryptobox.Wipe(old)
	}
	s.channels[channelID] = key
	return nil
}

// Remember caches a key obtained outside SelectChannel, such as the key of a
// channel this session just created. The session takes ownership of key.
func (s *Session) Remember(channelID string, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.channels[channelID]; ok {
		cryptobox.Wipe(old)
	}
	s.channels[channelID] = key
}

// Forget drops and zeroes one cached key.
func (s *Session) Forget(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := s.channels[channelID]; ok {
		cryptobox.Wipe(key)
		delete(s.channels, channelID)
	}
	if s.active == channelID {
		s.active = ""
	}
}

// Close zeroes every cached key and the private key copy.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, key := range s.channels {
		cryptobox.Wipe(key)
		delete(s.channels, id)
	}
	s.active = ""
	cryptobox.Wipe(s.keys.Private)
}

// Encrypt seals plaintext with the cached key for channelID.
func (s *Session) Encrypt(channelID string, plaintext []byte) (EncryptedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.channels[channelID]
	if !ok {
		return EncryptedMessage{}, fmt.Errorf("%w: %s", ErrNoChannelKey, channelID)
	}
	ct, nonce, err := cryptobox.SecretboxEncrypt(plaintext, key)
	if err != nil {
		return EncryptedMessage{}, err
	}
	return EncryptedMessage{
		MessageMeta:     MessageMeta{ChannelID: channelID},
		Ciphertext:      ct,
		Nonce:           nonce,
		SenderPublicKey: cryptobox.Encode(s.keys.Public),
	}, nil
}

// Decrypt opens an encrypted message with the cached key for its channel.
func (s *Session) Decrypt(m EncryptedMessage) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.channels[m.ChannelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChannelKey, m.ChannelID)
	}
	return cryptobox.SecretboxDecrypt(m.Ciphertext, m.Nonce, key)
}

// Render returns display text. It never fails: encrypted messages that
// cannot be opened render as Undecryptable.
func (s *Session) Render(m Message) string {
	switch msg := m.(type) {
	case PlaintextMessage:
		return msg.Text
	case EncryptedMessage:
		plain, err := s.Decrypt(msg)
		if err != nil {
			return Undecryptable
		}
		return string(plain)
	default:
		return Undecryptable
	}
}

// SendMessage encrypts plaintext for channelID and stores it. On failure the
// caller still holds plaintext and may retry.
func (s *Session) SendMessage(ctx context.Context, channelID, plaintext string) (dto.Message, error) {
	enc, err := s.Encrypt(channelID, []byte(plaintext))
	if err != nil {
		return dto.Message{}, err
	}
	return s.client.AddMessage(ctx, channelID, dto.AddMessageRequest{
		Content:   cryptobox.Encode(enc.Ciphertext),
		Nonce:     cryptobox.Encode(enc.Nonce),
		PublicKey: enc.SenderPublicKey,
	})
}

// Messages lists a channel's history as typed messages.
func (s *Session) Messages(ctx context.Context, channelID string) ([]Message, error) {
	res, err := s.client.ListMessages(ctx, channelID)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		out = append(out, FromDTO(m))
	}
	return out, nil
}

func unwrapRow(row dto.WrappedKey, recipientPrivate []byte) ([]byte, error) {
	ek, err := cryptobox.Decode(row.EncryptedKey)
	if err != nil {
		return nil, err
	}
	nonce, err := cryptobox.DecodeNonce(row.Nonce)
	if err != nil {
		return nil, err
	}
	wrapper, err := cryptobox.DecodeKey(row.WrappedByPublicKey)
	if err != nil {
		return nil, fmt.Errorf("wrapper public key: %w", err)
	}
	userID, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, err
	}
	key, err := keydist.Unwrap(keydist.WrappedKey{UserID: userID, EncryptedKey: ek, Nonce: nonce}, wrapper, recipientPrivate)
	if err != nil {
		return nil, errors.Join(keydist.ErrUnwrapFailed, err)
	}
	return key, nil
}
