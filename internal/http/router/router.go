package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/http/handler"
	"github.com/sandeepkv93/identity-core/internal/http/middleware"
	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/service"
)

// Policies are the per-route IP buckets. Per-email and per-code buckets live in the services.
type Policies struct {
	OAuth  service.RateLimitPolicy
	Login  service.RateLimitPolicy
	Signup service.RateLimitPolicy
	Me     service.RateLimitPolicy
}

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	UserHandler    *handler.UserHandler
	Sessions       middleware.SessionAuthenticator
	Limiter        *service.RateLimiter
	Policies       Policies
	CookieSecure   bool
	Readiness      func(ctx context.Context) error
	EnableOTelHTTP bool

	// TrustProxyHeaders rewrites RemoteAddr from forwarding headers. Off, IP buckets are keyed
	// on the socket peer.
	TrustProxyHeaders bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	if dep.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	limit := func(policy service.RateLimitPolicy) func(http.Handler) http.Handler {
		return middleware.NewRateLimiter(dep.Limiter, policy, nil).Middleware()
	}
	oauthLimiter := limit(dep.Policies.OAuth)
	loginLimiter := limit(dep.Policies.Login)
	signupLimiter := limit(dep.Policies.Signup)
	meLimiter := limit(dep.Policies.Me)
	sessionAuth := middleware.AuthMiddleware(dep.Sessions, middleware.SessionCookies{Secure: dep.CookieSecure})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness != nil {
			if err := dep.Readiness(r.Context()); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(oauthLimiter)
				r.Get("/{client}/login/{provider}", dep.AuthHandler.OAuthStart(domain.IntentLogin))
				r.Get("/{client}/signup/{provider}", dep.AuthHandler.OAuthStart(domain.IntentSignup))
				r.Get("/{client}/login/{provider}/callback", dep.AuthHandler.OAuthCallback)
				r.Get("/{client}/signup/{provider}/callback", dep.AuthHandler.OAuthCallback)
				r.Get("/{client}/link/{provider}/callback", dep.AuthHandler.OAuthCallback)
			})

			r.With(loginLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(loginLimiter, sessionAuth).Post("/logout", dep.AuthHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(signupLimiter)
				r.Post("/signup", dep.AuthHandler.SignupRequest)
				r.Post("/signup/verify-email", dep.AuthHandler.SignupVerifyEmail)
				r.Post("/signup/confirm", dep.AuthHandler.SignupConfirm)
				r.Post("/forgot-password", dep.AuthHandler.ForgotPassword)
				r.Post("/forgot-password/verify-email", dep.AuthHandler.ForgotPasswordVerifyEmail)
				r.Post("/forgot-password/reset", dep.AuthHandler.ForgotPasswordReset)
				r.Get("/association/preview", dep.AuthHandler.AssociationPreview)
				r.Post("/association/confirm", dep.AuthHandler.AssociationConfirm)
			})
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(meLimiter)
			r.Use(sessionAuth)
			r.Get("/", dep.UserHandler.Me)
			r.Get("/providers", dep.UserHandler.Providers)
			r.With(oauthLimiter).Get("/providers/{provider}/link", dep.UserHandler.LinkProvider)
			r.Delete("/providers/{provider}", dep.UserHandler.UnlinkProvider)
			r.Post("/email/verification", dep.UserHandler.RequestEmailVerification)
			r.Post("/email/verification/confirm", dep.UserHandler.ConfirmEmailVerification)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
