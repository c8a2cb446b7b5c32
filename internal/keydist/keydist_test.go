package keydist

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"e2ee-channels/internal/cryptobox"

	"github.com/google/uuid"
)

type constReader struct{ b byte }

func (r constReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}

type user struct {
	id uuid.UUID
	kp cryptobox.KeyPair
}

func newUsers(t *testing.T, n int) []user {
	t.Helper()
	out := make([]user, n)
	for i := range out {
		kp, err := cryptobox.GenerateKeyPair()
		if err != nil {
			t.Fatalf("GenerateKeyPair: %v", err)
		}
		out[i] = user{id: uuid.New(), kp: kp}
	}
	return out
}

func members(users []user) []Member {
	out := make([]Member, len(users))
	for i, u := range users {
		out[i] = Member{UserID: u.id, PublicKey: u.kp.Public}
	}
	return out
}

func TestDistributeEveryMemberUnwrapsSameKey(t *testing.T) {
	users := newUsers(t, 3)
	creator := users[0]

	dist, err := Distribute(context.Background(), creator.kp.Private, members(users))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	if len(dist.Keys) != 3 {
		t.Fatalf("expected 3 wrapped keys, got %d", len(dist.Keys))
	}
	if len(dist.GroupKey) != cryptobox.KeySize {
		t.Fatalf("group key length %d", len(dist.GroupKey))
	}

	nonces := map[string]bool{}
	for i, row := range dist.Keys {
		if row.UserID != users[i].id {
			t.Fatalf("row %d belongs to %s, want %s", i, row.UserID, users[i].id)
		}
		if nonces[string(row.Nonce)] {
			t.Fatalf("nonce reused across rows")
		}
		nonces[string(row.Nonce)] = true

		key, err := Unwrap(row, creator.kp.Public, users[i].kp.Private)
		if err != nil {
			t.Fatalf("Unwrap for member %d: %v", i, err)
		}
		if !bytes.Equal(key, dist.GroupKey) {
			t.Fatalf("member %d unwrapped a different key", i)
		}
	}

	// A member cannot open someone else's row.
	if _, err := Unwrap(dist.Keys[1], creator.kp.Public, users[2].kp.Private); !errors.Is(err, cryptobox.ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed for foreign row, got %v", err)
	}
}

func TestDistributeValidation(t *testing.T) {
	users := newUsers(t, 2)
	if _, err := Distribute(context.Background(), users[0].kp.Private, nil); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}

	dup := []Member{{UserID: users[0].id, PublicKey: users[0].kp.Public}, {UserID: users[0].id, PublicKey: users[0].kp.Public}}
	if _, err := Distribute(context.Background(), users[0].kp.Private, dup); !errors.Is(err, ErrDuplicateMember) {
		t.Fatalf("expected ErrDuplicateMember, got %v", err)
	}

	bad := []Member{{UserID: users[0].id, PublicKey: users[0].kp.Public}, {UserID: users[1].id, PublicKey: []byte("short")}}
	if _, err := Distribute(context.Background(), users[0].kp.Private, bad); !errors.Is(err, cryptobox.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDistributeDetectsNonceCollision(t *testing.T) {
	users := newUsers(t, 2)
	restore := cryptobox.UseDeterministicRandom(constReader{b: 7})
	defer restore()

	if _, err := Distribute(context.Background(), users[0].kp.Private, members(users)); !errors.Is(err, ErrNonceReuse) {
		t.Fatalf("expected ErrNonceReuse, got %v", err)
	}
}

func TestDistributeHonoursCancellation(t *testing.T) {
	users := newUsers(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Distribute(ctx, users[0].kp.Private, members(users)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRewrapForJoiner(t *testing.T) {
	users := newUsers(t, 4)
	creator := users[0]

	dist, err := Distribute(context.Background(), creator.kp.Private, members(users[:3]))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	used := make([][]byte, 0, len(dist.Keys))
	for _, k := range dist.Keys {
		used = append(used, k.Nonce)
	}

	joiner := users[3]
	row, err := Rewrap(dist.Keys[0], creator.kp, Member{UserID: joiner.id, PublicKey: joiner.kp.Public}, used)
	if err != nil {
		t.Fatalf("Rewrap: %v", err)
	}
	for _, n := range used {
		if bytes.Equal(n, row.Nonce) {
			t.Fatalf("rewrap reused an existing nonce")
		}
	}
	key, err := Unwrap(row, creator.kp.Public, joiner.kp.Private)
	if err != nil {
		t.Fatalf("joiner Unwrap: %v", err)
	}
	existing, err := Unwrap(dist.Keys[1], creator.kp.Public, users[1].kp.Private)
	if err != nil {
		t.Fatalf("member Unwrap: %v", err)
	}
	if !bytes.Equal(key, existing) {
		t.Fatalf("joiner key differs from existing member key")
	}
}

func TestRewrapFailsClosed(t *testing.T) {
	users := newUsers(t, 2)
	creator, joiner := users[0], users[1]
	dist, err := Distribute(context.Background(), creator.kp.Private, members(users[:1]))
	if err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	anchor := dist.Keys[0]
	target := Member{UserID: joiner.id, PublicKey: joiner.kp.Public}

	corrupted := anchor
	corrupted.EncryptedKey = append([]byte(nil), anchor.EncryptedKey...)
	corrupted.EncryptedKey[0] ^= 0xff
	if _, err := Rewrap(corrupted, creator.kp, target, nil); !errors.Is(err, ErrUnwrapFailed) {
		t.Fatalf("expected ErrUnwrapFailed, got %v", err)
	}

	// The deterministic source makes the next nonce predictable.
	restore := cryptobox.UseDeterministicRandom(constReader{b: 9})
	defer restore()
	predicted := bytes.Repeat([]byte{9}, cryptobox.NonceSize)
	if _, err := Rewrap(anchor, creator.kp, target, [][]byte{anchor.Nonce, predicted}); !errors.Is(err, ErrNonceReuse) {
		t.Fatalf("expected ErrNonceReuse, got %v", err)
	}
}
