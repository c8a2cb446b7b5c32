package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/jwtsigner"
	"e2ee-channels/internal/service"
	"e2ee-channels/internal/store"
	transport "e2ee-channels/internal/transport/http"

	"github.com/google/uuid"
)

type harness struct {
	handler http.Handler
	signer  *jwtsigner.Signer
}

func setupRouter(t *testing.T) *harness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := store.Open(store.Config{DSN: fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", name)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	signer, err := jwtsigner.NewFromBase64("", "kid-test", "test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	bus := events.NewMemoryBus(16)
	svc := service.New(st, bus, signer, service.WithArgon2Params(service.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}))
	verify := func(token string) (uuid.UUID, error) {
		c, err := signer.Verify(token)
		return c.UserID, err
	}
	return &harness{handler: transport.NewRouter(svc, bus, verify, transport.Options{ServiceName: "channels-test"}), signer: signer}
}

func (h *harness) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) registerAndLogin(t *testing.T, email string) (string, string) {
	t.Helper()
	kp, err := cryptobox.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	rec := h.call(t, http.MethodPost, "/v1/auth/register", "", dto.RegisterRequest{
		Email: email, Password: "long enough", Name: "n", PublicKey: cryptobox.Encode(kp.Public),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d body=%s", rec.Code, rec.Body)
	}
	rec = h.call(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Email: email, Password: "long enough"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rec.Code, rec.Body)
	}
	var res dto.LoginResponse
	_ = json.NewDecoder(rec.Body).Decode(&res)
	return res.UserID, res.Token
}

func TestHealthAndAuth(t *testing.T) {
	h := setupRouter(t)

	if rec := h.call(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := h.call(t, http.MethodGet, "/v1/channels", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := h.call(t, http.MethodGet, "/v1/channels", "garbage", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	_, token := h.registerAndLogin(t, "a@example.com")
	rec := h.call(t, http.MethodGet, "/v1/channels", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list channels = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestErrorStatusMapping(t *testing.T) {
	h := setupRouter(t)
	userID, token := h.registerAndLogin(t, "a@example.com")

	rec := h.call(t, http.MethodPost, "/v1/auth/register", "", dto.RegisterRequest{Email: "a@example.com", Password: "long enough", Name: "dup"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate email = %d", rec.Code)
	}
	rec = h.call(t, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Email: "a@example.com", Password: "wrong pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login = %d", rec.Code)
	}
	rec = h.call(t, http.MethodPost, "/v1/channels", token, dto.CreateChannelRequest{Slug: "!!", Keys: nil})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad slug = %d", rec.Code)
	}
	rec = h.call(t, http.MethodPost, "/v1/channels", token, map[string]any{"slug": "x", "unknown": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d", rec.Code)
	}
	rec = h.call(t, http.MethodGet, "/v1/users/"+uuid.NewString()+"/public-key", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user = %d", rec.Code)
	}
	rec = h.call(t, http.MethodGet, "/v1/users/not-a-uuid/public-key", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", rec.Code)
	}
	rec = h.call(t, http.MethodPut, "/v1/users/me/key", token, dto.ProvisionKeyRequest{PublicKey: cryptobox.Encode(make([]byte, 32))})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-provision = %d", rec.Code)
	}
	rec = h.call(t, http.MethodPost, "/v1/channels/"+uuid.NewString()+"/join", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("join unknown channel = %d", rec.Code)
	}

	var body dto.ErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error == "" {
		t.Fatal("expected error body")
	}

	rec = h.call(t, http.MethodGet, "/v1/users/"+userID+"/public-key", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own public key = %d", rec.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	h := setupRouter(t)
	userID, _ := h.registerAndLogin(t, "a@example.com")
	expired, err := h.signer.Sign(userID, -time.Minute, nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := h.call(t, http.MethodGet, "/v1/channels", expired, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}
