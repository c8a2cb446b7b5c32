package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/domain"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/store"

	"github.com/google/uuid"
)

const minPasswordLength = 8

// RegisterUser creates an account. The optional public key is the public half
// of a key pair generated by the client; the private half is never sent.
func (s *Service) RegisterUser(ctx context.Context, req dto.RegisterRequest) (dto.RegisterResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return dto.RegisterResponse{}, invalid("invalid email")
	}
	if len(req.Password) < minPasswordLength {
		return dto.RegisterResponse{}, invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return dto.RegisterResponse{}, invalid("missing name")
	}
	if req.PublicKey != "" {
		if _, err := cryptobox.DecodeKey(req.PublicKey); err != nil {
			return dto.RegisterResponse{}, invalid("invalid publicKey")
		}
	}

	hash, salt, params, err := s.passwords.Hash(req.Password)
	if err != nil {
		return dto.RegisterResponse{}, err
	}
	user := domain.User{
		ID:             uuid.New(),
		Email:          email,
		Name:           name,
		PasswordHash:   hash,
		PasswordSalt:   salt,
		PasswordParams: params,
		PublicKey:      req.PublicKey,
		CreatedAt:      s.now().UTC(),
	}

	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		if _, err := tx.Users().GetByEmail(ctx, email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, store.ErrRecordNotFound) {
			return err
		}
		return tx.Users().Create(ctx, &user)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return dto.RegisterResponse{}, ErrEmailTaken
	}
	if err != nil {
		return dto.RegisterResponse{}, err
	}
	return dto.RegisterResponse{UserID: user.ID.String(), HasKeyMaterial: user.HasKeyMaterial()}, nil
}

func (s *Service) Login(ctx context.Context, req dto.LoginRequest) (dto.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return dto.LoginResponse{}, ErrInvalidCredentials
	}
	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.LoginResponse{}, ErrInvalidCredentials
		}
		return dto.LoginResponse{}, err
	}
	if !s.passwords.Verify(req.Password, user.PasswordHash, user.PasswordSalt, user.PasswordParams) {
		return dto.LoginResponse{}, ErrInvalidCredentials
	}
	token, err := s.tokens.Sign(user.ID.String(), s.sessionTTL, nil)
	if err != nil {
		return dto.LoginResponse{}, fmt.Errorf("sign session: %w", err)
	}
	return dto.LoginResponse{
		UserID:    user.ID.String(),
		Token:     token,
		ExpiresAt: s.now().UTC().Add(s.sessionTTL),
	}, nil
}

// ProvisionKey attaches a public key to an account that has none. Keys are
// never rotated.
func (s *Service) ProvisionKey(ctx context.Context, userID uuid.UUID, req dto.ProvisionKeyRequest) (dto.PublicKeyResponse, error) {
	if _, err := cryptobox.DecodeKey(req.PublicKey); err != nil {
		return dto.PublicKeyResponse{}, invalid("invalid publicKey")
	}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		user, err := tx.Users().Get(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.HasKeyMaterial() {
			return ErrKeyAlreadyProvisioned
		}
		updated, err := tx.Users().SetPublicKey(ctx, userID, req.PublicKey)
		if err != nil {
			return err
		}
		if !updated {
			return ErrKeyAlreadyProvisioned
		}
		return nil
	})
	if err != nil {
		return dto.PublicKeyResponse{}, err
	}
	return dto.PublicKeyResponse{UserID: userID.String(), PublicKey: req.PublicKey}, nil
}

func (s *Service) GetPublicKey(ctx context.Context, userID uuid.UUID) (dto.PublicKeyResponse, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.PublicKeyResponse{}, ErrUserNotFound
		}
		return dto.PublicKeyResponse{}, err
	}
	if !user.HasKeyMaterial() {
		return dto.PublicKeyResponse{}, ErrKeyMaterialMissing
	}
	return dto.PublicKeyResponse{UserID: user.ID.String(), PublicKey: user.PublicKey}, nil
}

// EligibleMembers lists every user a new channel's key must be wrapped for.
// Users without key material are excluded.
func (s *Service) EligibleMembers(ctx context.Context) (dto.MembersResponse, error) {
	users, err := s.store.Users().WithKeyMaterial(ctx)
	if err != nil {
		return dto.MembersResponse{}, err
	}
	out := dto.MembersResponse{Members: make([]dto.Member, 0, len(users))}
	for _, u := range users {
		out.Members = append(out.Members, dto.Member{UserID: u.ID.String(), PublicKey: u.PublicKey})
	}
	return out, nil
}

// GetUserData returns the caller's profile and wrapped channel keys, each
// with the wrapper's public key. A nil channelID returns every channel.
func (s *Service) GetUserData(ctx context.Context, userID uuid.UUID, channelID *uuid.UUID) (dto.UserData, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.UserData{}, ErrUserNotFound
		}
		return dto.UserData{}, err
	}
	keys, err := s.store.ChannelKeys().ListByUser(ctx, userID, channelID)
	if err != nil {
		return dto.UserData{}, err
	}

	wrapperIDs := make([]uuid.UUID, 0, len(keys))
	seen := map[uuid.UUID]bool{}
	for _, k := range keys {
		if !seen[k.WrappedByID] {
			seen[k.WrappedByID] = true
			wrapperIDs = append(wrapperIDs, k.WrappedByID)
		}
	}
	wrappers, err := s.store.Users().GetMany(ctx, wrapperIDs)
	if err != nil {
		return dto.UserData{}, err
	}
	pubByID := make(map[uuid.UUID]string, len(wrappers))
	for _, w := range wrappers {
		pubByID[w.ID] = w.PublicKey
	}

	out := dto.UserData{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		PublicKey: user.PublicKey,
		Channels:  make([]dto.WrappedKey, 0, len(keys)),
	}
	for _, k := range keys {
		wk := wrappedKeyDTO(k)
		wk.WrappedByPublicKey = pubByID[k.WrappedByID]
		out.Channels = append(out.Channels, wk)
	}
	return out, nil
}
