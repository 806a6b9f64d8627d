package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/rentchain/pkg/health"
	"github.com/utafrali/rentchain/pkg/middleware"
	"github.com/utafrali/rentchain/services/session/internal/service"
)

// ServiceName labels metrics and traces emitted by the router.
const ServiceName = "session"

// RouterConfig carries the router's collaborators and transport settings.
type RouterConfig struct {
	Sessions   *service.SessionService
	Identities *service.IdentityService
	Health     *health.Handler
	Logger     *slog.Logger

	Cookie CookieConfig
	CORS   middleware.CORSConfig

	// RefreshLimiter bounds rotation attempts per caller IP. Nil disables it.
	RefreshLimiter middleware.Limiter

	// WalletHeaderAuth lets X-Wallet-Address stand in for a bearer token.
	WalletHeaderAuth bool

	PprofAllowedCIDRs []string

	// TrustedProxyCIDRs lists the reverse proxies whose forwarding headers
	// name the caller. Empty means the socket peer is the caller.
	TrustedProxyCIDRs []string
}

// NewRouter creates a chi router with all session service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RealIP(cfg.TrustedProxyCIDRs, logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	authHandler := NewAuthHandler(cfg.Sessions, cfg.Cookie, logger)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		r.Route("/session", func(r chi.Router) {
			refresh := http.Handler(http.HandlerFunc(authHandler.Refresh))
			if cfg.RefreshLimiter != nil {
				refresh = middleware.RateLimit(cfg.RefreshLimiter, logger)(refresh)
			}
			r.Method(http.MethodPost, "/refresh", refresh)
			r.Post("/logout", authHandler.Logout)
		})
	})

	var resolveWallet middleware.WalletResolver
	if cfg.WalletHeaderAuth {
		resolveWallet = cfg.Identities.ResolveWallet
	}
	authenticate := middleware.Authenticate(cfg.Sessions.VerifyAccessToken, resolveWallet, logger)

	identityHandler := NewIdentityHandler(cfg.Identities, logger)
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/wallet", identityHandler.EnsureWalletIdentity)
		r.Get("/wallet/{address}", identityHandler.GetByWallet)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/me", identityHandler.GetMe)
			r.Put("/me", identityHandler.UpdateMe)
			r.Put("/me/wallet", identityHandler.ConnectWallet)
			r.Put("/me/role", identityHandler.ChangeRole)
		})
	})

	return r
}
