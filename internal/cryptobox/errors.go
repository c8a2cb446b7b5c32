package cryptobox

import "errors"

var (
	ErrInvalidKey       = errors.New("cryptobox: invalid key length")
	ErrInvalidNonce     = errors.New("cryptobox: invalid nonce length")
	ErrDecryptionFailed = errors.New("cryptobox: message authentication failed")
	ErrRandomness       = errors.New("cryptobox: randomness source failed")
)
