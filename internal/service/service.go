package service

import (
	"context"
	"log/slog"
	"time"

	"e2ee-channels/internal/events"
	"e2ee-channels/internal/observability/metrics"
	"e2ee-channels/internal/store"

	"github.com/google/uuid"
)

// TokenSigner issues session tokens for authenticated users.
type TokenSigner interface {
	Sign(sub string, ttl time.Duration, claims map[string]any) (string, error)
}

type Service struct {
	store      *store.Store
	bus        events.Bus
	tokens     TokenSigner
	passwords  passwordHasher
	sessionTTL time.Duration
	now        func() time.Time
}

type Option func(*Service)

func WithArgon2Params(p Argon2Params) Option {
	return func(s *Service) { s.passwords = passwordHasher{params: p} }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st *store.Store, bus events.Bus, tokens TokenSigner, opts ...Option) *Service {
	s := &Service{
		store:      st,
		bus:        bus,
		tokens:     tokens,
		passwords:  passwordHasher{params: DefaultArgon2Params},
		sessionTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// publish announces a committed row change. Failures are logged, never
// returned: the write already happened and consumers refetch on reconnect.
func (s *Service) publish(ctx context.Context, table string, typ events.Type, rowID string, row any) {
	if s.bus == nil {
		return
	}
	ev, err := events.New(table, typ, rowID, row)
	if err == nil {
		err = s.bus.Publish(ctx, ev)
	}
	if err != nil {
		slog.Warn("event publish failed", "error", err, "table", table, "type", typ, "row_id", rowID)
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(table, string(typ)).Inc()
}

func keyRowID(channelID, userID uuid.UUID) string {
	return channelID.String() + ":" + userID.String()
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalid("invalid " + field)
	}
	return id, nil
}
