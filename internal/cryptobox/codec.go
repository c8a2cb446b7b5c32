package cryptobox

import (
	"encoding/base64"
	"fmt"
)

// Encode renders binary fields as standard padded base64, the representation
// used on the wire and in the database.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode base64: %w", err)
	}
	return b, nil
}

// DecodeKey decodes a base64 key and reports ErrInvalidKey on a bad length.
func DecodeKey(s string) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(b))
	}
	return b, nil
}

// DecodeNonce decodes a base64 nonce and reports ErrInvalidNonce on a bad length.
func DecodeNonce(s string) ([]byte, error) {
	b, err := Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidNonce, len(b))
	}
	return b, nil
}
