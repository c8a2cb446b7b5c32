package service

import (
	"context"
	"errors"

	"e2ee-channels/internal/domain"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/observability/metrics"
	"e2ee-channels/internal/store"

	"github.com/google/uuid"
)

// JoinChannel files a join request. A caller that already holds a key row is
// reported as joined; otherwise the request stays pending until the anchor
// holder re-wraps the group key for them.
func (s *Service) JoinChannel(ctx context.Context, channelID, joinerID uuid.UUID) (resp dto.JoinResponse, err error) {
	defer func() {
		result := resp.Status
		if err != nil {
			result = "failure"
		}
		metrics.JoinRequestsTotal.WithLabelValues(result).Inc()
	}()

	var (
		req     domain.JoinRequest
		created bool
	)
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Channels().Get(ctx, channelID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrChannelNotFound
			}
			return err
		}
		joiner, err := tx.Users().Get(ctx, joinerID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if !joiner.HasKeyMaterial() {
			return ErrKeyMaterialMissing
		}
		if _, err := tx.ChannelKeys().Get(ctx, channelID, joinerID); err == nil {
			resp = dto.JoinResponse{ChannelID: channelID.String(), Status: dto.JoinJoined}
			return nil
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		req = domain.JoinRequest{ChannelID: channelID, UserID: joinerID, CreatedAt: s.now().UTC()}
		created, err = tx.JoinRequests().Ensure(ctx, &req)
		if err != nil {
			return err
		}
		resp = dto.JoinResponse{ChannelID: channelID.String(), Status: dto.JoinPending}
		return nil
	})
	if err != nil {
		return dto.JoinResponse{}, err
	}
	if created {
		s.publish(ctx, events.TableJoinRequests, events.Insert, keyRowID(channelID, joinerID), joinRequestDTO(req, ""))
	}
	return resp, nil
}

// PendingJoins lists join requests for a channel together with the anchor
// row and every nonce already used for the channel's key rows. Only the
// channel creator may read it.
func (s *Service) PendingJoins(ctx context.Context, channelID, callerID uuid.UUID) (dto.PendingJoinsResponse, error) {
	channel, err := s.store.Channels().Get(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.PendingJoinsResponse{}, ErrChannelNotFound
		}
		return dto.PendingJoinsResponse{}, err
	}
	if channel.CreatedByID != callerID {
		return dto.PendingJoinsResponse{}, ErrForbidden
	}
	creator, err := s.store.Users().Get(ctx, callerID)
	if err != nil {
		return dto.PendingJoinsResponse{}, err
	}

	keys, err := s.store.ChannelKeys().ListByChannel(ctx, channelID)
	if err != nil {
		return dto.PendingJoinsResponse{}, err
	}
	out := dto.PendingJoinsResponse{
		ChannelID:        channelID.String(),
		CreatorPublicKey: creator.PublicKey,
		UsedNonces:       make([]string, 0, len(keys)),
		Requests:         []dto.JoinRequest{},
	}
	anchorFound := false
	for _, k := range keys {
		out.UsedNonces = append(out.UsedNonces, k.Nonce)
		if k.UserID == callerID {
			out.Anchor = wrappedKeyDTO(k)
			out.Anchor.WrappedByPublicKey = creator.PublicKey
			anchorFound = true
		}
	}
	if !anchorFound {
		return dto.PendingJoinsResponse{}, ErrAnchorMissing
	}

	reqs, err := s.store.JoinRequests().ListByChannel(ctx, channelID)
	if err != nil {
		return dto.PendingJoinsResponse{}, err
	}
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.UserID)
	}
	users, err := s.store.Users().GetMany(ctx, ids)
	if err != nil {
		return dto.PendingJoinsResponse{}, err
	}
	pub := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		pub[u.ID] = u.PublicKey
	}
	for _, r := range reqs {
		out.Requests = append(out.Requests, joinRequestDTO(r, pub[r.UserID]))
	}
	return out, nil
}

// AddChannelKey stores a key row re-wrapped by the channel creator for a
// pending joiner and settles the join request in the same transaction.
func (s *Service) AddChannelKey(ctx context.Context, channelID, callerID uuid.UUID, in dto.WrappedKeyInput) (dto.WrappedKey, error) {
	joinerID, err := checkWrappedRow(in)
	if err != nil {
		return dto.WrappedKey{}, err
	}

	var row domain.ChannelKey
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		channel, err := tx.Channels().Get(ctx, channelID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrChannelNotFound
			}
			return err
		}
		if channel.CreatedByID != callerID {
			return ErrForbidden
		}
		if _, err := tx.ChannelKeys().GetShared(ctx, channelID, callerID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrAnchorMissing
			}
			return err
		}
		if _, err := tx.ChannelKeys().Get(ctx, channelID, joinerID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		used, err := tx.ChannelKeys().NonceUsed(ctx, channelID, in.Nonce)
		if err != nil {
			return err
		}
		if used {
			return ErrNonceReuse
		}
		if err := tx.JoinRequests().Delete(ctx, channelID, joinerID); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrJoinRequestNotFound
			}
			return err
		}
		row = domain.ChannelKey{
			ChannelID:    channelID,
			UserID:       joinerID,
			WrappedByID:  callerID,
			EncryptedKey: in.EncryptedKey,
			Nonce:        in.Nonce,
			CreatedAt:    s.now().UTC(),
		}
		if err := tx.ChannelKeys().Add(ctx, &row); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrNonceReuse
			}
			return err
		}
		return nil
	})
	if err != nil {
		return dto.WrappedKey{}, err
	}

	metrics.ChannelKeysWrappedTotal.Inc()
	out := wrappedKeyDTO(row)
	s.publish(ctx, events.TableChannelKeys, events.Insert, keyRowID(channelID, joinerID), out)
	s.publish(ctx, events.TableJoinRequests, events.Delete, keyRowID(channelID, joinerID),
		dto.JoinRequest{ChannelID: channelID.String(), UserID: joinerID.String()})
	return out, nil
}
