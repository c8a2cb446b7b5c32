package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrEmailTaken            = errors.New("email already registered")
	ErrUserNotFound          = errors.New("user not found")
	ErrKeyMaterialMissing    = errors.New("user has no key material")
	ErrKeyAlreadyProvisioned = errors.New("key material already provisioned")
	ErrChannelNotFound       = errors.New("channel not found")
	ErrSlugTaken             = errors.New("channel slug taken")
	ErrMembershipChanged     = errors.New("eligible members changed")
	ErrNonceReuse            = errors.New("nonce already used in channel")
	ErrAnchorMissing         = errors.New("channel anchor key missing")
	ErrJoinRequestNotFound   = errors.New("join request not found")
	ErrAlreadyMember         = errors.New("user already holds a channel key")
	ErrNotMember             = errors.New("not a channel member")
	ErrForbidden             = errors.New("forbidden")
	ErrMessageNotFound       = errors.New("message not found")
)

func invalid(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, detail)
}
