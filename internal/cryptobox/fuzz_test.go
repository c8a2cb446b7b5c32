package cryptobox

import (
	"bytes"
	"testing"
)

func FuzzSecretboxTamper(f *testing.F) {
	f.Add([]byte("payload"), uint16(0))
	f.Add([]byte{}, uint16(9))
	f.Fuzz(func(t *testing.T, payload []byte, pos uint16) {
		restore := UseDeterministicRandom(bytes.NewReader(bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 64)))
		defer restore()

		key, err := NewSymmetricKey()
		if err != nil {
			t.Fatalf("key: %v", err)
		}
		ct, nonce, err := SecretboxEncrypt(payload, key)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		idx := int(pos) % len(ct)
		ct[idx] ^= 0x80
		if got, err := SecretboxDecrypt(ct, nonce, key); err == nil {
			t.Fatalf("tampered ciphertext opened to %q", got)
		}
	})
}
