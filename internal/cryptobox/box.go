// Package cryptobox wraps NaCl box (X25519, XSalsa20-Poly1305) and secretbox
// behind slice-based helpers that validate lengths and draw every nonce from a
// cryptographically secure source.
package cryptobox

import (
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	NonceSize = 24
	Overhead  = secretbox.Overhead
)

type KeyPair struct {
	Public  []byte
	Private []byte
}

// GenerateKeyPair creates a long-term X25519 key pair for box.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(source())
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub[:], Private: priv[:]}, nil
}

// BoxEncrypt seals plaintext for recipientPublic, authenticated by
// senderPrivate. A fresh nonce is generated for every call.
func BoxEncrypt(plaintext, recipientPublic, senderPrivate []byte) (ciphertext, nonce []byte, err error) {
	pub, err := toKey(recipientPublic)
	if err != nil {
		return nil, nil, err
	}
	priv, err := toKey(senderPrivate)
	if err != nil {
		return nil, nil, err
	}
	defer wipeArray(priv)
	n, err := NewNonce()
	if err != nil {
		return nil, nil, err
	}
	return box.Seal(nil, plaintext, n, pub, priv), n[:], nil
}

// BoxDecrypt opens a box produced by BoxEncrypt.
func BoxDecrypt(ciphertext, nonce, senderPublic, recipientPrivate []byte) ([]byte, error) {
	n, err := toNonce(nonce)
	if err != nil {
		return nil, err
	}
	pub, err := toKey(senderPublic)
	if err != nil {
		return nil, err
	}
	priv, err := toKey(recipientPrivate)
	if err != nil {
		return nil, err
	}
	defer wipeArray(priv)
	plaintext, ok := box.Open(nil, ciphertext, n, pub, priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SecretboxEncrypt seals plaintext under a symmetric key with a fresh nonce.
func SecretboxEncrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	k, err := toKey(key)
	if err != nil {
		return nil, nil, err
	}
	defer wipeArray(k)
	n, err := NewNonce()
	if err != nil {
		return nil, nil, err
	}
	return secretbox.Seal(nil, plaintext, n, k), n[:], nil
}

func SecretboxDecrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	n, err := toNonce(nonce)
	if err != nil {
		return nil, err
	}
	k, err := toKey(key)
	if err != nil {
		return nil, err
	}
	defer wipeArray(k)
	plaintext, ok := secretbox.Open(nil, ciphertext, n, k)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func wipeArray(k *[KeySize]byte) {
	Wipe(k[:])
}

func toKey(b []byte) (*[KeySize]byte, error) {
	if len(b) != KeySize {
		return nil, ErrInvalidKey
	}
	var k [KeySize]byte
	copy(k[:], b)
	return &k, nil
}

func toNonce(b []byte) (*[NonceSize]byte, error) {
	if len(b) != NonceSize {
		return nil, ErrInvalidNonce
	}
	var n [NonceSize]byte
	copy(n[:], b)
	return &n, nil
}
