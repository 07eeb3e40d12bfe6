package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/callsync/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/callsync/internal/http/middleware"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	CallStatus      *handlers.CallStatusHandler
	AudioProxy      *handlers.AudioProxyHandler
	AdminCalls      *handlers.AdminCallsHandler
	LeadsHandler    *leads.Handler
	WebhookLimiter  *httpmiddleware.RateLimiter
	AdminAuthSecret string
	MetricsHandler  http.Handler
	HealthDB        handlers.Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.Health(cfg.HealthDB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.CallStatus != nil {
			public.With(httpmiddleware.RateLimit(cfg.WebhookLimiter)).
				Post("/webhooks/twilio/call-status", cfg.CallStatus.Handle)
		}
	})

	if cfg.AdminAuthSecret == "" {
		return r
	}

	if cfg.AudioProxy != nil {
		r.With(httpmiddleware.RecordingAccess(cfg.AdminAuthSecret, "conversationID")).
			Get("/api/calls/audio/{conversationID}", cfg.AudioProxy.Stream)
	}

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.AdminCalls != nil {
			admin.Get("/calls/{callID}", cfg.AdminCalls.GetCall)
			admin.Post("/calls/{callID}/enrich", cfg.AdminCalls.Enrich)
		}
		if cfg.LeadsHandler != nil {
			admin.Get("/leads/{leadID}", cfg.LeadsHandler.GetLead)
		}
	})

	return r
}
