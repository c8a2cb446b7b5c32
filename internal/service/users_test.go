package service_test

import (
	"context"
	"errors"
	"testing"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/service"

	"github.com/google/uuid"
)

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	res, err := svc.RegisterUser(ctx, dto.RegisterRequest{Email: " Eve@Example.com ", Password: "long enough", Name: "Eve"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterUser(ctx, dto.RegisterRequest{Email: "eve@example.com", Password: "long enough", Name: "Eve"}); !errors.Is(err, service.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	login, err := svc.Login(ctx, dto.LoginRequest{Email: "EVE@example.com", Password: "long enough"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.UserID != res.UserID || login.Token == "" {
		t.Fatalf("unexpected login: %+v", login)
	}
	if _, err := svc.Login(ctx, dto.LoginRequest{Email: "eve@example.com", Password: "wrong password"}); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, dto.LoginRequest{Email: "nobody@example.com", Password: "long enough"}); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := setupService(t)
	cases := []dto.RegisterRequest{
		{Email: "not-an-email", Password: "long enough", Name: "x"},
		{Email: "a@example.com", Password: "short", Name: "x"},
		{Email: "a@example.com", Password: "long enough", Name: " "},
		{Email: "a@example.com", Password: "long enough", Name: "x", PublicKey: "AAAA"},
	}
	for i, req := range cases {
		if _, err := svc.RegisterUser(context.Background(), req); !errors.Is(err, service.ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestProvisionKeyOnce(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()
	res, err := svc.RegisterUser(ctx, dto.RegisterRequest{Email: "k@example.com", Password: "long enough", Name: "k"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	id := uuid.MustParse(res.UserID)

	kp, _ := cryptobox.GenerateKeyPair()
	pub := cryptobox.Encode(kp.Public)
	if _, err := svc.ProvisionKey(ctx, id, dto.ProvisionKeyRequest{PublicKey: pub}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	got, err := svc.GetPublicKey(ctx, id)
	if err != nil || got.PublicKey != pub {
		t.Fatalf("get public key: %+v %v", got, err)
	}

	other, _ := cryptobox.GenerateKeyPair()
	if _, err := svc.ProvisionKey(ctx, id, dto.ProvisionKeyRequest{PublicKey: cryptobox.Encode(other.Public)}); !errors.Is(err, service.ErrKeyAlreadyProvisioned) {
		t.Fatalf("expected ErrKeyAlreadyProvisioned, got %v", err)
	}
	if _, err := svc.GetPublicKey(ctx, uuid.New()); !errors.Is(err, service.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	members, err := svc.EligibleMembers(ctx)
	if err != nil || len(members.Members) != 1 || members.Members[0].PublicKey != pub {
		t.Fatalf("eligible members: %+v %v", members, err)
	}
}
