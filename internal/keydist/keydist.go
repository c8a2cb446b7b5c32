// Package keydist implements the channel group-key lifecycle: a single
// secretbox key is generated per channel and wrapped with box for every
// member, each wrap under its own nonce.
package keydist

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"e2ee-channels/internal/cryptobox"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoRecipients    = errors.New("keydist: no recipients")
	ErrDuplicateMember = errors.New("keydist: duplicate member")
	ErrNonceReuse      = errors.New("keydist: nonce reused for channel key")
	ErrUnwrapFailed    = errors.New("keydist: unable to unwrap channel key")
)

// Member is a recipient of the group key.
type Member struct {
	UserID    uuid.UUID
	PublicKey []byte
}

// WrappedKey is the group key sealed for one member.
type WrappedKey struct {
	UserID       uuid.UUID
	EncryptedKey []byte
	Nonce        []byte
}

type Distribution struct {
	GroupKey []byte
	Keys     []WrappedKey
}

// Wipe zeroes the plaintext group key.
func (d *Distribution) Wipe() {
	if d != nil {
		cryptobox.Wipe(d.GroupKey)
	}
}

// Distribute generates a fresh group key and wraps it for every member using
// the distributor's private key. Wraps run concurrently; the returned rows
// keep the order of members.
func Distribute(ctx context.Context, distributorPrivate []byte, members []Member) (*Distribution, error) {
	if len(members) == 0 {
		return nil, ErrNoRecipients
	}
	seen := make(map[uuid.UUID]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMember, m.UserID)
		}
		seen[m.UserID] = struct{}{}
	}

	groupKey, err := cryptobox.NewSymmetricKey()
	if err != nil {
		return nil, err
	}

	keys := make([]WrappedKey, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			row, err := Wrap(groupKey, m, distributorPrivate)
			if err != nil {
				return fmt.Errorf("wrap for %s: %w", m.UserID, err)
			}
			keys[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cryptobox.Wipe(groupKey)
		return nil, err
	}

	nonces := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := nonces[string(k.Nonce)]; dup {
			cryptobox.Wipe(groupKey)
			return nil, ErrNonceReuse
		}
		nonces[string(k.Nonce)] = struct{}{}
	}

	return &Distribution{GroupKey: groupKey, Keys: keys}, nil
}

// Wrap seals groupKey for a single member.
func Wrap(groupKey []byte, m Member, distributorPrivate []byte) (WrappedKey, error) {
	if len(groupKey) != cryptobox.KeySize {
		return WrappedKey{}, cryptobox.ErrInvalidKey
	}
	ct, nonce, err := cryptobox.BoxEncrypt(groupKey, m.PublicKey, distributorPrivate)
	if err != nil {
		return WrappedKey{}, err
	}
	return WrappedKey{UserID: m.UserID, EncryptedKey: ct, Nonce: nonce}, nil
}

// Unwrap recovers the group key from a row sealed by wrapperPublic.
func Unwrap(row WrappedKey, wrapperPublic, recipientPrivate []byte) ([]byte, error) {
	key, err := cryptobox.BoxDecrypt(row.EncryptedKey, row.Nonce, wrapperPublic, recipientPrivate)
	if err != nil {
		return nil, err
	}
	if len(key) != cryptobox.KeySize {
		cryptobox.Wipe(key)
		return nil, fmt.Errorf("%w: unwrapped %d bytes", cryptobox.ErrInvalidKey, len(key))
	}
	return key, nil
}

// Rewrap opens the anchor row with the anchor holder's key pair and seals the
// same group key for joiner under a fresh nonce. usedNonces are the nonces of
// every row already stored for the channel; a collision fails closed.
func Rewrap(anchor WrappedKey, holder cryptobox.KeyPair, joiner Member, usedNonces [][]byte) (WrappedKey, error) {
	groupKey, err := Unwrap(anchor, holder.Public, holder.Private)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("%w: %v", ErrUnwrapFailed, err)
	}
	defer cryptobox.Wipe(groupKey)

	row, err := Wrap(groupKey, joiner, holder.Private)
	if err != nil {
		return WrappedKey{}, err
	}
	for _, n := range usedNonces {
		if string(n) == string(row.Nonce) {
			return WrappedKey{}, ErrNonceReuse
		}
	}
	return row, nil
}
