package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/domain"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/observability/metrics"
	"e2ee-channels/internal/store"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// wrappedKeySize is a sealed 32-byte group key plus the box tag.
const wrappedKeySize = cryptobox.KeySize + cryptobox.Overhead

func normalizeSlug(raw string) (string, error) {
	slug := strings.ToLower(strings.TrimSpace(raw))
	if !slugPattern.MatchString(slug) {
		return "", invalid("slug must match [a-z0-9][a-z0-9_-]{0,63}")
	}
	return slug, nil
}

// checkWrappedRow validates the encoding of one submitted key row and returns
// the recipient id.
func checkWrappedRow(in dto.WrappedKeyInput) (uuid.UUID, error) {
	userID, err := parseID(in.UserID, "userId")
	if err != nil {
		return uuid.Nil, err
	}
	ek, err := cryptobox.Decode(in.EncryptedKey)
	if err != nil || len(ek) != wrappedKeySize {
		return uuid.Nil, invalid("encryptedKey must be a base64 sealed 32-byte key")
	}
	if _, err := cryptobox.DecodeNonce(in.Nonce); err != nil {
		return uuid.Nil, invalid("nonce must be 24 bytes base64")
	}
	return userID, nil
}

// CreateChannel persists a channel together with the group key wrapped for
// every eligible member. The submitted rows must cover exactly the users that
// currently hold key material, including the creator, or the whole write is
// rejected with ErrMembershipChanged and nothing is stored.
func (s *Service) CreateChannel(ctx context.Context, creatorID uuid.UUID, req dto.CreateChannelRequest) (resp dto.CreateChannelResponse, err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		metrics.ChannelsCreatedTotal.WithLabelValues(result).Inc()
	}()

	slug, err := normalizeSlug(req.Slug)
	if err != nil {
		return dto.CreateChannelResponse{}, err
	}
	if len(req.Keys) == 0 {
		return dto.CreateChannelResponse{}, invalid("keys required")
	}

	submitted := make(map[uuid.UUID]dto.WrappedKeyInput, len(req.Keys))
	nonces := make(map[string]struct{}, len(req.Keys))
	for _, in := range req.Keys {
		userID, err := checkWrappedRow(in)
		if err != nil {
			return dto.CreateChannelResponse{}, err
		}
		if _, dup := submitted[userID]; dup {
			return dto.CreateChannelResponse{}, invalid("duplicate userId " + userID.String())
		}
		if _, dup := nonces[in.Nonce]; dup {
			return dto.CreateChannelResponse{}, ErrNonceReuse
		}
		submitted[userID] = in
		nonces[in.Nonce] = struct{}{}
	}

	channel := domain.Channel{
		ID:          uuid.New(),
		Slug:        slug,
		CreatedByID: creatorID,
		CreatedAt:   s.now().UTC(),
	}
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		creator, err := tx.Users().Get(ctx, creatorID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !creator.HasKeyMaterial() {
			return ErrKeyMaterialMissing
		}
		if _, ok := submitted[creatorID]; !ok {
			return ErrAnchorMissing
		}

		exists, err := tx.Channels().SlugExists(ctx, slug)
		if err != nil {
			return err
		}
		if exists {
			return ErrSlugTaken
		}

		eligible, err := tx.Users().WithKeyMaterial(ctx)
		if err != nil {
			return err
		}
		if len(eligible) != len(submitted) {
			return ErrMembershipChanged
		}
		for _, u := range eligible {
			if _, ok := submitted[u.ID]; !ok {
				return ErrMembershipChanged
			}
		}

		if err := tx.Channels().Create(ctx, &channel); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrSlugTaken
			}
			return err
		}
		rows := make([]domain.ChannelKey, 0, len(eligible))
		for _, u := range eligible {
			in := submitted[u.ID]
			rows = append(rows, domain.ChannelKey{
				ChannelID:    channel.ID,
				UserID:       u.ID,
				WrappedByID:  creatorID,
				EncryptedKey: in.EncryptedKey,
				Nonce:        in.Nonce,
				CreatedAt:    channel.CreatedAt,
			})
		}
		if err := tx.ChannelKeys().AddBatch(ctx, rows); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrNonceReuse
			}
			return err
		}
		return nil
	})
	if err != nil {
		return dto.CreateChannelResponse{}, err
	}

	metrics.ChannelKeysWrappedTotal.Add(float64(len(submitted)))
	out := channelDTO(channel, true)
	s.publish(ctx, events.TableChannels, events.Insert, channel.ID.String(), channelDTO(channel, false))
	return dto.CreateChannelResponse{Channel: out, Members: len(submitted)}, nil
}

// ListChannels returns every channel ordered by slug, flagging the ones the
// caller holds a key for.
func (s *Service) ListChannels(ctx context.Context, callerID uuid.UUID) (dto.ChannelsResponse, error) {
	chans, err := s.store.Channels().List(ctx)
	if err != nil {
		return dto.ChannelsResponse{}, err
	}
	keys, err := s.store.ChannelKeys().ListByUser(ctx, callerID, nil)
	if err != nil {
		return dto.ChannelsResponse{}, err
	}
	member := make(map[uuid.UUID]bool, len(keys))
	for _, k := range keys {
		member[k.ChannelID] = true
	}
	out := dto.ChannelsResponse{Channels: make([]dto.Channel, 0, len(chans))}
	for _, c := range chans {
		out.Channels = append(out.Channels, channelDTO(c, member[c.ID]))
	}
	return out, nil
}

// DeleteChannel removes a channel with its keys, pending joins and messages.
// Only the creator may delete.
func (s *Service) DeleteChannel(ctx context.Context, channelID, callerID uuid.UUID) error {
	var channel *domain.Channel
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		channel, err = tx.Channels().Get(ctx, channelID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrChannelNotFound
			}
			return err
		}
		if channel.CreatedByID != callerID {
			return ErrForbidden
		}
		if _, err := tx.Messages().DeleteByChannel(ctx, channelID); err != nil {
			return err
		}
		if _, err := tx.JoinRequests().DeleteByChannel(ctx, channelID); err != nil {
			return err
		}
		if _, err := tx.ChannelKeys().DeleteByChannel(ctx, channelID); err != nil {
			return err
		}
		return tx.Channels().Delete(ctx, channelID)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events.TableChannels, events.Delete, channelID.String(), channelDTO(*channel, false))
	return nil
}

// channelForMember loads a channel and checks that userID holds a key row.
func (s *Service) channelForMember(ctx context.Context, st *store.Store, channelID, userID uuid.UUID) (*domain.Channel, error) {
	channel, err := st.Channels().Get(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	if _, err := st.ChannelKeys().Get(ctx, channelID, userID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return channel, nil
}

// IsMember reports whether userID holds a key row for the channel.
func (s *Service) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	if _, err := s.store.ChannelKeys().Get(ctx, channelID, userID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
