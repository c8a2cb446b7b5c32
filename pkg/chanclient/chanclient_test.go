package chanclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"e2ee-channels/internal/cryptobox"
	"e2ee-channels/internal/dto"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/jwtsigner"
	"e2ee-channels/internal/service"
	"e2ee-channels/internal/store"
	transport "e2ee-channels/internal/transport/http"
	"e2ee-channels/pkg/chanclient"

	"github.com/google/uuid"
)

const password = "correct horse battery"

func newServer(t *testing.T) *httptest.Server {
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
	signer, err := jwtsigner.NewFromBase64("", "kid-test", "test")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	bus := events.NewMemoryBus(256)
	svc := service.New(st, bus, signer, service.WithArgon2Params(service.Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}))
	verify := func(token string) (uuid.UUID, error) {
		claims, err := signer.Verify(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	srv := httptest.NewServer(transport.NewRouter(svc, bus, verify, transport.Options{ServiceName: "channels-test", Heartbeat: 50 * time.Millisecond}))
	t.Cleanup(func() {
		srv.Close()
		_ = bus.Close()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return srv
}

func signUp(t *testing.T, srv *httptest.Server, name string, opts ...chanclient.Option) (*chanclient.Client, *chanclient.Session) {
	t.Helper()
	ctx := context.Background()
	c := chanclient.New(srv.URL, opts...)
	if _, err := c.Register(ctx, name+"@example.com", password, name); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	if _, err := c.Login(ctx, name+"@example.com", password); err != nil {
		t.Fatalf("login %s: %v", name, err)
	}
	sess, err := c.NewSession()
	if err != nil {
		t.Fatalf("session %s: %v", name, err)
	}
	t.Cleanup(sess.Close)
	return c, sess
}

func renderAll(t *testing.T, sess *chanclient.Session, channelID string) []string {
	t.Helper()
	msgs, err := sess.Messages(context.Background(), channelID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, sess.Render(m))
	}
	return out
}

func TestEndToEndChannelFlow(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, alice := signUp(t, srv, "alice")
	_, bob := signUp(t, srv, "bob")
	_, carol := signUp(t, srv, "carol")

	created, err := alice.CreateChannel(ctx, "general")
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if created.Members != 3 {
		t.Fatalf("expected 3 wrapped rows, got %d", created.Members)
	}
	channelID := created.Channel.ID

	for _, s := range []*chanclient.Session{bob, carol} {
		if err := s.SelectChannel(ctx, channelID); err != nil {
			t.Fatalf("select channel: %v", err)
		}
	}
	if _, err := alice.SendMessage(ctx, channelID, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := renderAll(t, bob, channelID); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("bob rendered %v", got)
	}

	_, dave := signUp(t, srv, "dave")
	if err := dave.SelectChannel(ctx, channelID); !errors.Is(err, chanclient.ErrNoChannelKey) {
		t.Fatalf("expected ErrNoChannelKey before join, got %v", err)
	}
	join, err := dave.Join(ctx, channelID)
	if err != nil || join.Status != "pending" {
		t.Fatalf("join: %+v %v", join, err)
	}
	if _, err := bob.FulfillJoins(ctx, channelID); !errors.Is(err, chanclient.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-creator fulfil, got %v", err)
	}
	added, err := alice.FulfillJoins(ctx, channelID)
	if err != nil || added != 1 {
		t.Fatalf("fulfil joins: %d %v", added, err)
	}
	if err := dave.SelectChannel(ctx, channelID); err != nil {
		t.Fatalf("dave select: %v", err)
	}
	if got := renderAll(t, dave, channelID); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("joiner rendered %v", got)
	}
}

func TestRenderPlaceholderWithoutKey(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	aliceClient, alice := signUp(t, srv, "alice")
	created, err := alice.CreateChannel(ctx, "secret")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	msg, err := alice.SendMessage(ctx, created.Channel.ID, "for members")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := aliceClient.AddMessage(ctx, created.Channel.ID, plaintextRequest("plain")); err != nil {
		t.Fatalf("plaintext send: %v", err)
	}

	_, eve := signUp(t, srv, "eve")
	if got := eve.Render(chanclient.FromDTO(msg)); got != chanclient.Undecryptable {
		t.Fatalf("expected placeholder, got %q", got)
	}

	tampered := msg
	tampered.Content = "AAAAAAAAAAAAAAAAAAAAAAAA"
	if got := alice.Render(chanclient.FromDTO(tampered)); got != chanclient.Undecryptable {
		t.Fatalf("expected placeholder for tampered ciphertext, got %q", got)
	}
	got := renderAll(t, alice, created.Channel.ID)
	if len(got) != 2 || got[0] != "for members" || got[1] != "plain" {
		t.Fatalf("alice rendered %v", got)
	}

	alice.Forget(created.Channel.ID)
	if _, err := alice.SendMessage(ctx, created.Channel.ID, "no key"); !errors.Is(err, chanclient.ErrNoChannelKey) {
		t.Fatalf("expected ErrNoChannelKey after Forget, got %v", err)
	}
}

// raceTransport registers a new user right before the first channel creation
// request, simulating membership changing after the eligible-members snapshot.
type raceTransport struct {
	base    http.RoundTripper
	once    sync.Once
	trigger func()
}

func (rt *raceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost && req.URL.Path == "/v1/channels" {
		rt.once.Do(rt.trigger)
	}
	return rt.base.RoundTrip(req)
}

func TestCreateChannelRetriesOnMembershipChange(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	rt := &raceTransport{base: http.DefaultTransport}
	_, alice := signUp(t, srv, "alice", chanclient.WithHTTPClient(&http.Client{Transport: rt, Timeout: 10 * time.Second}))
	rt.trigger = func() {
		if _, err := chanclient.New(srv.URL).Register(ctx, "late@example.com", password, "late"); err != nil {
			t.Errorf("late register: %v", err)
		}
	}

	created, err := alice.CreateChannel(ctx, "racy")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Members != 2 {
		t.Fatalf("expected retry to include late member, got %d rows", created.Members)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobClient, bob := signUp(t, srv, "bob")
	_, alice := signUp(t, srv, "alice")

	feed := chanclient.NewFeed()
	got := make(chan events.Event, 16)
	feed.OnChange = func(ev events.Event) { got <- ev }
	streamDone := make(chan error, 1)
	go func() { streamDone <- bobClient.Stream(ctx, feed) }()

	// Wait for the subscription before writing.
	time.Sleep(100 * time.Millisecond)

	created, err := alice.CreateChannel(ctx, "live")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bob.SelectChannel(ctx, created.Channel.ID); err != nil {
		t.Fatalf("select: %v", err)
	}
	sent, err := alice.SendMessage(ctx, created.Channel.ID, "streamed")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	for {
		select {
		case ev := <-got:
			if ev.Table != events.TableMessages {
				continue
			}
			msgs := feed.Messages(created.Channel.ID)
			if len(msgs) != 1 || msgs[0].ID != sent.ID {
				t.Fatalf("feed messages: %+v", msgs)
			}
			if text := bob.Render(chanclient.FromDTO(msgs[0])); text != "streamed" {
				t.Fatalf("rendered %q", text)
			}
			if chans := feed.Channels(); len(chans) != 1 || chans[0].Slug != "live" {
				t.Fatalf("feed channels: %+v", chans)
			}
			cancel()
			<-streamDone
			return
		case err := <-streamDone:
			t.Fatalf("stream ended early: %v", err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for message event")
		}
	}
}

func TestStreamHidesMessagesFromNonMembers(t *testing.T) {
	srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	aliceClient, alice := signUp(t, srv, "alice")
	private, err := alice.CreateChannel(ctx, "private")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	eveClient, _ := signUp(t, srv, "eve")
	got := make(chan events.Event, 32)
	feed := chanclient.NewFeed()
	feed.OnChange = func(ev events.Event) { got <- ev }
	streamDone := make(chan error, 1)
	go func() { streamDone <- eveClient.Stream(ctx, feed) }()
	time.Sleep(100 * time.Millisecond)

	if _, err := aliceClient.AddMessage(ctx, private.Channel.ID, plaintextRequest("secret plaintext")); err != nil {
		t.Fatalf("plaintext send: %v", err)
	}
	// Eve registered after "private" was created, so she is eligible for
	// this one and receives its channel row.
	open, err := alice.CreateChannel(ctx, "open")
	if err != nil {
		t.Fatalf("create open: %v", err)
	}
	if _, err := aliceClient.AddMessage(ctx, open.Channel.ID, plaintextRequest("hello eve")); err != nil {
		t.Fatalf("send open: %v", err)
	}

	for {
		select {
		case ev := <-got:
			if ev.Table != events.TableMessages {
				continue
			}
			if strings.Contains(string(ev.Row), "secret plaintext") {
				t.Fatalf("non-member received %s", ev.Row)
			}
			if len(feed.Messages(private.Channel.ID)) != 0 {
				t.Fatal("feed holds messages of a channel eve cannot read")
			}
			if msgs := feed.Messages(open.Channel.ID); len(msgs) != 1 || msgs[0].Content != "hello eve" {
				t.Fatalf("open channel messages: %+v", msgs)
			}
			cancel()
			<-streamDone
			return
		case err := <-streamDone:
			t.Fatalf("stream ended early: %v", err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for message event")
		}
	}
}

// nonceTamperTransport appends a malformed entry to the used-nonce list of
// pending join responses.
type nonceTamperTransport struct {
	base http.RoundTripper
}

func (nt *nonceTamperTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := nt.base.RoundTrip(req)
	if err != nil || req.Method != http.MethodGet || !strings.HasSuffix(req.URL.Path, "/join-requests") {
		return resp, err
	}
	defer func() { _ = resp.Body.Close() }()
	var pending dto.PendingJoinsResponse
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		return nil, err
	}
	pending.UsedNonces = append(pending.UsedNonces, "AAAA")
	body, err := json.Marshal(pending)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Length")
	return resp, nil
}

func TestFulfillJoinsRejectsMalformedUsedNonce(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	_, alice := signUp(t, srv, "alice", chanclient.WithHTTPClient(&http.Client{Transport: &nonceTamperTransport{base: http.DefaultTransport}, Timeout: 10 * time.Second}))
	created, err := alice.CreateChannel(ctx, "strict")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, dave := signUp(t, srv, "dave")
	if _, err := dave.Join(ctx, created.Channel.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	added, err := alice.FulfillJoins(ctx, created.Channel.ID)
	if !errors.Is(err, cryptobox.ErrInvalidNonce) || added != 0 {
		t.Fatalf("expected ErrInvalidNonce and no rows, got %d %v", added, err)
	}
	if err := dave.SelectChannel(ctx, created.Channel.ID); !errors.Is(err, chanclient.ErrNoChannelKey) {
		t.Fatalf("joiner must stay without a key, got %v", err)
	}
}

func plaintextRequest(text string) dto.AddMessageRequest {
	return dto.AddMessageRequest{Content: text}
}
