package cryptobox

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

var (
	randMu        sync.RWMutex
	randomnessSrc io.Reader = randReader{}
)

// randReader wraps crypto/rand.Reader; the type stays unexported so tests can
// only swap it through UseDeterministicRandom.
type randReader struct{}

func (randReader) Read(p []byte) (int, error) {
	return rand.Read(p)
}

// UseDeterministicRandom swaps the randomness source and returns a restore
// function that must be called when the test completes.
func UseDeterministicRandom(r io.Reader) func() {
	randMu.Lock()
	prev := randomnessSrc
	randomnessSrc = r
	randMu.Unlock()
	return func() {
		randMu.Lock()
		randomnessSrc = prev
		randMu.Unlock()
	}
}

func source() io.Reader {
	randMu.RLock()
	defer randMu.RUnlock()
	return randomnessSrc
}

func readRandom(b []byte) error {
	if _, err := io.ReadFull(source(), b); err != nil {
		return fmt.Errorf("%w: %v", ErrRandomness, err)
	}
	return nil
}

// NewNonce returns a fresh random nonce of NonceSize bytes.
func NewNonce() (*[NonceSize]byte, error) {
	var nonce [NonceSize]byte
	if err := readRandom(nonce[:]); err != nil {
		return nil, err
	}
	return &nonce, nil
}

// NewSymmetricKey returns KeySize random bytes suitable for SecretboxEncrypt.
func NewSymmetricKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if err := readRandom(key); err != nil {
		return nil, err
	}
	return key, nil
}
