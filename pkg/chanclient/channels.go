package chanclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/keydist"

	"github.com/google/uuid"
)

const maxCreateAttempts = 3

// CreateChannel distributes a fresh group key to every eligible member and
// creates the channel. When the member set changes between the snapshot and
// the write, the whole operation is retried with a new key. The group key is
// cached in the session on success.
func (s *Session) CreateChannel(ctx context.Context, slug string) (dto.CreateChannelResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		res, key, err := s.createOnce(ctx, slug)
		if err == nil {
			s.Remember(res.Channel.ID, key)
			return res, nil
		}
		if !errors.Is(err, ErrMembershipChanged) {
			return dto.CreateChannelResponse{}, err
		}
		lastErr = err
	}
	return dto.CreateChannelResponse{}, fmt.Errorf("create channel after %d attempts: %w", maxCreateAttempts, lastErr)
}

func (s *Session) createOnce(ctx context.Context, slug string) (dto.CreateChannelResponse, []byte, error) {
	eligible, err := s.client.EligibleMembers(ctx)
	if err != nil {
		return dto.CreateChannelResponse{}, nil, err
	}
	members := make([]keydist.Member, 0, len(eligible.Members))
	for _, m := range eligible.Members {
		id, err := uuid.Parse(m.UserID)
		if err != nil {
			return dto.CreateChannelResponse{}, nil, fmt.Errorf("member id: %w", err)
		}
		pub, err := cryptobox.DecodeKey(m.PublicKey)
		if err != nil {
			return dto.CreateChannelResponse{}, nil, fmt.Errorf("member %s public key: %w", id, err)
		}
		members = append(members, keydist.Member{UserID: id, PublicKey: pub})
	}

	dist, err := keydist.Distribute(ctx, s.keys.Private, members)
	if err != nil {
		return dto.CreateChannelResponse{}, nil, err
	}
	req := dto.CreateChannelRequest{Slug: slug, Keys: make([]dto.WrappedKeyInput, 0, len(dist.Keys))}
	for _, k := range dist.Keys {
		req.Keys = append(req.Keys, wrappedInput(k))
	}
	var res dto.CreateChannelResponse
	if err := s.client.do(ctx, http.MethodPost, "/v1/channels", req, &res); err != nil {
		dist.Wipe()
		return dto.CreateChannelResponse{}, nil, err
	}
	return res, dist.GroupKey, nil
}

// FulfillJoins re-wraps the channel key for every pending joiner. It must be
// run by the channel creator, whose row anchors the channel. A corrupted
// anchor aborts with keydist.ErrUnwrapFailed; per-joiner failures are
// collected and returned together.
func (s *Session) FulfillJoins(ctx context.Context, channelID string) (int, error) {
	pending, err := s.client.PendingJoins(ctx, channelID)
	if err != nil {
		return 0, err
	}
	if len(pending.Requests) == 0 {
		return 0, nil
	}

	anchorKey, err := cryptobox.Decode(pending.Anchor.EncryptedKey)
	if err != nil {
		return 0, fmt.Errorf("%w: anchor key: %v", keydist.ErrUnwrapFailed, err)
	}
	anchorNonce, err := cryptobox.Decode(pending.Anchor.Nonce)
	if err != nil {
		return 0, fmt.Errorf("%w: anchor nonce: %v", keydist.ErrUnwrapFailed, err)
	}
	creatorPub, err := cryptobox.DecodeKey(pending.CreatorPublicKey)
	if err != nil {
		return 0, fmt.Errorf("creator public key: %w", err)
	}
	anchor := keydist.WrappedKey{EncryptedKey: anchorKey, Nonce: anchorNonce}
	holder := cryptobox.KeyPair{Public: creatorPub, Private: s.keys.Private}

	used := make([][]byte, 0, len(pending.UsedNonces)+len(pending.Requests))
	for _, n := range pending.UsedNonces {
		raw, err := cryptobox.DecodeNonce(n)
		if err != nil {
			return 0, fmt.Errorf("used nonce %q: %w", n, err)
		}
		used = append(used, raw)
	}

	var (
		added int
		errs  []error
	)
	for _, req := range pending.Requests {
		joinerID, err := uuid.Parse(req.UserID)
		if err != nil {
			errs = append(errs, fmt.Errorf("joiner id %q: %w", req.UserID, err))
			continue
		}
		pub, err := cryptobox.DecodeKey(req.PublicKey)
		if err != nil {
			errs = append(errs, fmt.Errorf("joiner %s public key: %w", joinerID, err))
			continue
		}
		row, err := keydist.Rewrap(anchor, holder, keydist.Member{UserID: joinerID, PublicKey: pub}, used)
		if errors.Is(err, keydist.ErrUnwrapFailed) {
			return added, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("joiner %s: %w", joinerID, err))
			continue
		}
		if _, err := s.client.AddChannelKey(ctx, channelID, wrappedInput(row)); err != nil {
			errs = append(errs, fmt.Errorf("joiner %s: %w", joinerID, err))
			continue
		}
		used = append(used, row.Nonce)
		added++
	}
	return added, errors.Join(errs...)
}

// Join requests membership. A pending result means the creator must run
// FulfillJoins before the key can be selected.
func (s *Session) Join(ctx context.Context, channelID string) (dto.JoinResponse, error) {
	res, err := s.client.JoinChannel(ctx, channelID)
	if err != nil {
		return dto.JoinResponse{}, err
	}
	if res.Status == dto.JoinJoined {
		if err := s.SelectChannel(ctx, channelID); err != nil {
			return res, err
		}
	}
	return res, nil
}

func wrappedInput(k keydist.WrappedKey) dto.WrappedKeyInput {
	return dto.WrappedKeyInput{
		UserID:       k.UserID.String(),
		EncryptedKey: cryptobox.Encode(k.EncryptedKey),
		Nonce:        cryptobox.Encode(k.Nonce),
	}
}
