package chanclient

import (
	"time"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
)

// Undecryptable is shown in place of an encrypted message that cannot be
// opened with the cached channel key.
const Undecryptable = "[undecryptable]"

// Message is either a PlaintextMessage or an EncryptedMessage.
type Message interface {
	Meta() MessageMeta
	isMessage()
}

type MessageMeta struct {
	ID        string
	ChannelID string
	UserID    string
	CreatedAt time.Time
}

type PlaintextMessage struct {
	MessageMeta
	Text string
}

type EncryptedMessage struct {
	MessageMeta
	Ciphertext      []byte
	Nonce           []byte
	SenderPublicKey string
}

func (m PlaintextMessage) Meta() MessageMeta { return m.MessageMeta }
func (m EncryptedMessage) Meta() MessageMeta { return m.MessageMeta }
func (PlaintextMessage) isMessage()          {}
func (EncryptedMessage) isMessage()          {}

// FromDTO classifies a stored message. A nonce marks the content as base64
// ciphertext; content that fails to decode stays encrypted with no bytes so
// it renders as the placeholder.
func FromDTO(m dto.Message) Message {
	meta := MessageMeta{ID: m.ID, ChannelID: m.ChannelID, UserID: m.UserID, CreatedAt: m.CreatedAt}
	if m.Nonce == "" {
		return PlaintextMessage{MessageMeta: meta, Text: m.Content}
	}
	out := EncryptedMessage{MessageMeta: meta, SenderPublicKey: m.SenderPublicKey}
	if ct, err := cryptobox.Decode(m.Content); err == nil {
		out.Ciphertext = ct
	}
	if nonce, err := cryptobox.Decode(m.Nonce); err == nil {
		out.Nonce = nonce
	}
	return out
}
