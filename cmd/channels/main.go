package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"e2ee-channels/internal/config"
	"e2ee-channels/internal/events"
	"e2ee-channels/internal/jwtsigner"
	"e2ee-channels/internal/observability/logging"
	"e2ee-channels/internal/service"
	"e2ee-channels/internal/store"
	transport "e2ee-channels/internal/transport/http"

	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	logger := logging.NewLogger(logging.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)
	logger.Info("starting service")

	db, err := store.Open(store.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		logger.Error("db open", "error", err)
		os.Exit(1)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		logger.Error("auto migrate", "error", err)
		os.Exit(1)
	}

	bus, err := newBus(cfg)
	if err != nil {
		logger.Error("event bus", "error", err)
		os.Exit(1)
	}
	defer func() { _ = bus.Close() }()

	signer, err := jwtsigner.NewFromBase64(cfg.SigningKey, cfg.SigningKeyID, cfg.Issuer)
	if err != nil {
		logger.Error("signing key", "error", err)
		os.Exit(1)
	}
	if cfg.SigningKey == "" {
		logger.Warn("SIGNING_KEY not set, using an ephemeral key; sessions end on restart")
	}

	svc := service.New(st, bus, signer, service.WithSessionTTL(cfg.SessionTTL))
	verify := func(token string) (uuid.UUID, error) {
		claims, err := signer.Verify(token)
		if err != nil {
			return uuid.Nil, err
		}
		return claims.UserID, nil
	}
	handler := transport.NewRouter(svc, bus, verify, transport.Options{
		ServiceName:        cfg.ServiceName,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSOrigins:        cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("channels service listening", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func newBus(cfg config.Config) (events.Bus, error) {
	if cfg.RedisURL == "" {
		slog.Info("using in-process event bus")
		return events.NewMemoryBus(0), nil
	}
	bus, err := events.NewRedisBus(cfg.RedisURL, cfg.EventsChannel)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bus.Ping(ctx); err != nil {
		_ = bus.Close()
		return nil, err
	}
	slog.Info("using redis event bus", "channel", cfg.EventsChannel)
	return bus, nil
}
