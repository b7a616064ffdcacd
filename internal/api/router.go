package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/richjun-project/vibescan/internal/api/handlers"
	"github.com/richjun-project/vibescan/internal/api/middleware"
	"github.com/richjun-project/vibescan/internal/auth"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/quota"
	"github.com/richjun-project/vibescan/internal/realtime"
	"github.com/richjun-project/vibescan/internal/scan"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Logger         *slog.Logger
	JWTService     *auth.JWTService
	AuthService    *auth.Service
	BillingService *billing.Service
	Ledger         *quota.Ledger
	Dispatcher     *scan.Dispatcher
	Registry       *scan.Registry
	Hub            *realtime.Hub
	WebhookSecret  string
	AllowedOrigins []string // CORS allowed origins
	RateLimitReqs  int      // Rate limit requests per window
	RateLimitSecs  int      // Rate limit window in seconds
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	if cfg.RateLimitReqs > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	// CORS - restrict to configured origins, or allow all in development
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		// Default to localhost for development - configure in production
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	authHandler := handlers.NewAuthHandler(cfg.AuthService, cfg.Ledger)
	scanHandler := handlers.NewScanHandler(cfg.Dispatcher, cfg.Registry)
	billingHandler := handlers.NewBillingHandler(cfg.BillingService, cfg.WebhookSecret)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)

		// Provider webhook, authenticated by HMAC signature
		r.Post("/billing/webhook", billingHandler.Webhook)

		// Shared reports, reachable by token alone
		r.Get("/scans/public/{shareToken}", scanHandler.GetPublic)

		// Websocket endpoint. Auth is optional here: anonymous clients
		// may subscribe to public scans with a share token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.OptionalAuth(cfg.JWTService))
			r.Get("/ws", cfg.Hub.ServeWS)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTService))

			r.Get("/me", authHandler.Me)

			r.Route("/scans", func(r chi.Router) {
				r.Get("/", scanHandler.List)
				r.Post("/", scanHandler.Create)
				r.Get("/{id}", scanHandler.Get)
				r.Post("/{id}/cancel", scanHandler.Cancel)
				r.Patch("/{id}/toggle-public", scanHandler.TogglePublic)
			})
		})
	})

	return &Router{r}
}
