package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/basego/server/internal/http/handlers"
	"github.com/basego/server/internal/http/response"
	"github.com/basego/server/internal/middleware"
)

// Handlers groups the endpoint handlers served by the router
type Handlers struct {
	Client  *handlers.ClientHandler
	Auth    *handlers.AuthHandler
	Account *handlers.AccountHandler
	Health  *handlers.HealthHandler
}

// Options configures the gateway middleware
type Options struct {
	Log            *zap.Logger
	APIKeys        middleware.APIKeyValidator
	Authorizer     middleware.Authorizer
	Limiter        middleware.Limiter // nil disables rate limiting
	AllowedOrigins []string
	// TrustProxy takes the client IP from proxy headers. Without it rate limits
	// key on the connection address.
	TrustProxy bool
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, opts Options) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestLogger(opts.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderAPIKey, middleware.HeaderAuthorization,
			middleware.HeaderDeviceIdentifier, middleware.HeaderDeviceModel,
			middleware.HeaderDevicePlatform, middleware.HeaderAppIdentifier,
		},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "The requested resource is not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Fail(w, r, http.StatusMethodNotAllowed, response.CodeOther, "The request method is not allowed")
	})

	r.Get("/health", h.Health.ServeHTTP)

	limited := func(r chi.Router) chi.Router {
		if opts.Limiter == nil {
			return r
		}
		return r.With(middleware.RateLimit(opts.Limiter, middleware.IPKey))
	}

	r.Route("/v1/client", func(r chi.Router) {
		r.Use(middleware.ClientHeaders(false))
		r.Use(middleware.APIKey(opts.APIKeys))

		r.Post("/server_time", h.Client.ServerTime)
		limited(r).Post("/register", h.Client.Register)
		limited(r).Post("/account_verification/submit", h.Client.SubmitVerification)
		limited(r).Post("/account_verification/resend_email", h.Client.ResendVerification)
		limited(r).Post("/reset_password/request_token", h.Client.RequestPasswordReset)
		limited(r).Post("/reset_password/verify_token", h.Client.VerifyPasswordReset)
		limited(r).Post("/reset_password/set_password", h.Client.SetPassword)
	})

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(middleware.ClientHeaders(true))
		r.Use(middleware.APIKey(opts.APIKeys))

		limited(r).Post("/access_token/request", h.Auth.RequestAccessToken)
		r.Post("/access_token/refresh", h.Auth.RefreshAccessToken)
	})

	r.Route("/v1/account", func(r chi.Router) {
		r.Use(middleware.ClientHeaders(true))
		r.Use(middleware.APIKey(opts.APIKeys))
		r.Use(middleware.Authenticate(opts.Authorizer))

		r.Post("/profile/get", h.Account.Profile)
		r.Post("/profile/accept_tos", h.Account.AcceptTOS)
		r.Post("/security/change_password", h.Account.ChangePassword)
		r.Post("/logout", h.Account.Logout)
		r.Post("/countries", h.Account.Countries)
		r.Post("/time_zones", h.Account.TimeZones)
	})

	return r
}
