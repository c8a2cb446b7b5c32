package service

import (
	"e2ee-channels/internal/domain"
	"e2ee-channels/internal/dto"
)

func channelDTO(c domain.Channel, joined bool) dto.Channel {
	return dto.Channel{
		ID:          c.ID.String(),
		Slug:        c.Slug,
		CreatedByID: c.CreatedByID.String(),
		CreatedAt:   c.CreatedAt,
		Joined:      joined,
	}
}

func wrappedKeyDTO(k domain.ChannelKey) dto.WrappedKey {
	return dto.WrappedKey{
		ChannelID:    k.ChannelID.String(),
		UserID:       k.UserID.String(),
		WrappedByID:  k.WrappedByID.String(),
		EncryptedKey: k.EncryptedKey,
		Nonce:        k.Nonce,
		CreatedAt:    k.CreatedAt,
	}
}

func messageDTO(m domain.Message) dto.Message {
	return dto.Message{
		ID:              m.ID.String(),
		ChannelID:       m.ChannelID.String(),
		UserID:          m.UserID.String(),
		Content:         m.Content,
		Nonce:           m.Nonce,
		SenderPublicKey: m.SenderPublicKey,
		CreatedAt:       m.CreatedAt,
	}
}

func joinRequestDTO(r domain.JoinRequest, publicKey string) dto.JoinRequest {
	return dto.JoinRequest{
		ChannelID:   r.ChannelID.String(),
		UserID:      r.UserID.String(),
		PublicKey:   publicKey,
		RequestedAt: r.CreatedAt,
	}
}
