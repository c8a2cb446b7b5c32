package service

import "testing"

func TestPasswordHashVerify(t *testing.T) {
	h := passwordHasher{params: Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}}
	hash, salt, params, err := h.Hash("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(hash) != 32 || len(salt) != 16 {
		t.Fatalf("unexpected sizes: hash=%d salt=%d", len(hash), len(salt))
	}
	if !h.Verify("s3cret-pass", hash, salt, params) {
		t.Fatal("expected password to verify")
	}
	if h.Verify("wrong", hash, salt, params) {
		t.Fatal("wrong password verified")
	}
	if h.Verify("s3cret-pass", hash, salt, []byte("not json")) {
		t.Fatal("corrupt params verified")
	}

	// Verification uses the stored parameters, not the hasher's current ones.
	stronger := passwordHasher{params: Argon2Params{Time: 2, Memory: 2048, Threads: 1, KeyLen: 32, SaltLen: 16}}
	if !stronger.Verify("s3cret-pass", hash, salt, params) {
		t.Fatal("stored params ignored")
	}

	if _, _, _, err := h.Hash(""); err == nil {
		t.Fatal("expected empty password rejected")
	}
}
