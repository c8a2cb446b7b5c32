package service

import (
	"context"
	"errors"
	"strings"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/domain"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/observability/metrics"
	"e2ee-channels/internal/store"

	"github.com/google/uuid"
)

const (
	maxMessageLength = 64 << 10
	defaultListLimit = 500
)

// AddMessage stores a message for a channel member. With a nonce the content
// must be base64 secretbox ciphertext; without one it is stored as plaintext.
func (s *Service) AddMessage(ctx context.Context, channelID, authorID uuid.UUID, req dto.AddMessageRequest) (dto.Message, error) {
	if req.Content == "" {
		return dto.Message{}, invalid("content required")
	}
	if len(req.Content) > maxMessageLength {
		return dto.Message{}, invalid("content too long")
	}
	kind := "plaintext"
	if req.Nonce != "" {
		kind = "encrypted"
		if _, err := cryptobox.DecodeNonce(req.Nonce); err != nil {
			return dto.Message{}, invalid("nonce must be 24 bytes base64")
		}
		ct, err := cryptobox.Decode(req.Content)
		if err != nil || len(ct) < cryptobox.Overhead {
			return dto.Message{}, invalid("content must be base64 ciphertext")
		}
	} else if strings.TrimSpace(req.Content) == "" {
		return dto.Message{}, invalid("content required")
	}
	if req.PublicKey != "" {
		if _, err := cryptobox.DecodeKey(req.PublicKey); err != nil {
			return dto.Message{}, invalid("invalid publicKey")
		}
	}

	msg := domain.Message{
		ID:              uuid.New(),
		ChannelID:       channelID,
		UserID:          authorID,
		Content:         req.Content,
		Nonce:           req.Nonce,
		SenderPublicKey: req.PublicKey,
		CreatedAt:       s.now().UTC(),
	}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := s.channelForMember(ctx, tx, channelID, authorID); err != nil {
			return err
		}
		return tx.Messages().Create(ctx, &msg)
	})
	if err != nil {
		return dto.Message{}, err
	}
	metrics.MessagesStoredTotal.WithLabelValues(kind).Inc()
	out := messageDTO(msg)
	s.publish(ctx, events.TableMessages, events.Insert, msg.ID.String(), out)
	return out, nil
}

// ListMessages returns the newest messages of a channel, oldest first. Only members may
// read them.
func (s *Service) ListMessages(ctx context.Context, channelID, callerID uuid.UUID) (dto.MessagesResponse, error) {
	if _, err := s.channelForMember(ctx, s.store, channelID, callerID); err != nil {
		return dto.MessagesResponse{}, err
	}
	msgs, err := s.store.Messages().ListByChannel(ctx, channelID, defaultListLimit)
	if err != nil {
		return dto.MessagesResponse{}, err
	}
	out := dto.MessagesResponse{Messages: make([]dto.Message, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, messageDTO(m))
	}
	return out, nil
}

// DeleteMessage removes one message. The author and the channel creator may
// delete it.
func (s *Service) DeleteMessage(ctx context.Context, messageID, callerID uuid.UUID) error {
	var msg *domain.Message
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		msg, err = tx.Messages().Get(ctx, messageID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if msg.UserID != callerID {
			channel, err := tx.Channels().Get(ctx, msg.ChannelID)
			if err != nil {
				return err
			}
			if channel.CreatedByID != callerID {
				return ErrForbidden
			}
		}
		if err := tx.Messages().Delete(ctx, messageID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.TableMessages, events.Delete, messageID.String(), messageDTO(*msg))
	return nil
}

// ClearMessages deletes every message of a channel. Any member may clear.
func (s *Service) ClearMessages(ctx context.Context, channelID, callerID uuid.UUID) (dto.ClearMessagesResponse, error) {
	var deleted []domain.Message
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := s.channelForMember(ctx, tx, channelID, callerID); err != nil {
			return err
		}
		var err error
		deleted, err = tx.Messages().DeleteByChannel(ctx, channelID)
		return err
	})
	if err != nil {
		return dto.ClearMessagesResponse{}, err
	}
	for _, m := range deleted {
		s.publish(ctx, events.TableMessages, events.Delete, m.ID.String(), messageDTO(m))
	}
	return dto.ClearMessagesResponse{Deleted: len(deleted)}, nil
}
