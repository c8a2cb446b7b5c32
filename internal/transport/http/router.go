package http

import (
	"net/http"
	"time"

	"e2ee-channels/internal/events"
	"e2ee-channels/internal/httpx"
	"e2ee-channels/internal/observability/metrics"
	"e2ee-channels/internal/observability/middleware"
	"e2ee-channels/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options struct {
	ServiceName        string
	RateLimitPerMinute int
	CORSOrigins        []string
	RequestTimeout     time.Duration
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

type handler struct {
	svc       *service.Service
	bus       events.Bus
	heartbeat time.Duration
}

func NewRouter(svc *service.Service, bus events.Bus, verify httpx.VerifyFunc, opts Options) http.Handler {
	if opts.ServiceName == "" {
		opts.ServiceName = "channels"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	metrics.MustRegister(opts.ServiceName)

	h := &handler{svc: svc, bus: bus, heartbeat: opts.Heartbeat}
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.WithRequestAndTrace)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithMetrics)
	if opts.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RateLimitPerMinute, time.Minute))
	}
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.HeaderRequestID, middleware.HeaderTraceID},
			ExposedHeaders:   []string{middleware.HeaderRequestID, middleware.HeaderTraceID},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(opts.RequestTimeout))
			r.Post("/auth/register", h.register)
			r.Post("/auth/login", h.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(httpx.RequireBearer(verify))

			// Streaming stays outside the request timeout.
			r.Get("/events", h.streamEvents)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(opts.RequestTimeout))

				r.Put("/users/me/key", h.provisionKey)
				r.Get("/users/me", h.userData)
				r.Get("/users/{id}/public-key", h.publicKey)

				r.Get("/channels/eligible-members", h.eligibleMembers)
				r.Post("/channels", h.createChannel)
				r.Get("/channels", h.listChannels)
				r.Delete("/channels/{id}", h.deleteChannel)
				r.Post("/channels/{id}/join", h.joinChannel)
				r.Get("/channels/{id}/join-requests", h.pendingJoins)
				r.Post("/channels/{id}/keys", h.addChannelKey)
				r.Post("/channels/{id}/messages", h.addMessage)
				r.Get("/channels/{id}/messages", h.listMessages)
				r.Delete("/channels/{id}/messages", h.clearMessages)
				r.Delete("/messages/{id}", h.deleteMessage)
			})
		})
	})

	return r
}
