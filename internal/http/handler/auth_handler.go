package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/http/middleware"
	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type AuthHandler struct {
	oauth        *service.OAuthFlowCoordinator
	auth         *service.AuthService
	signup       *service.SignupService
	reset        *service.PasswordResetService
	associations *service.AccountAssociationService
	clients      ClientConfig
}

func NewAuthHandler(
	oauth *service.OAuthFlowCoordinator,
	auth *service.AuthService,
	signup *service.SignupService,
	reset *service.PasswordResetService,
	associations *service.AccountAssociationService,
	clients ClientConfig,
) *AuthHandler {
	return &AuthHandler{oauth: oauth, auth: auth, signup: signup, reset: reset, associations: associations, clients: clients}
}

// OAuthStart redirects to the provider with a fresh signed state and PKCE verifier.
func (h *AuthHandler) OAuthStart(kind domain.IntentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		intent := domain.Intent{Kind: kind}
		beginOAuth(w, r, h.oauth, h.clients, intent)
	}
}

func beginOAuth(w http.ResponseWriter, r *http.Request, oauth *service.OAuthFlowCoordinator, clients ClientConfig, intent domain.Intent) {
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown provider", nil)
		return
	}
	client, ok := clientType(r, chi.URLParam(r, "client"))
	if !ok {
		response.Error(w, r, http.StatusNotFound, "UNKNOWN_CLIENT", "unknown client type", nil)
		return
	}
	req, err := oauth.BuildAuthorizationRequest(provider, client, intent)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	clients.setShortCookie(w, stateCookieName, req.SignedState, oauthCookiePath)
	clients.setShortCookie(w, verifierCookieName, req.CodeVerifier, oauthCookiePath)
	http.Redirect(w, r, req.AuthorizationURL, http.StatusFound)
}

// OAuthCallback finishes the provider redirect and sends the client to its landing URL.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown provider", nil)
		return
	}
	q := r.URL.Query()
	in := service.CallbackInput{
		Provider:     provider,
		State:        q.Get("state"),
		Code:         q.Get("code"),
		Error:        q.Get("error"),
		CookieState:  cookieValue(r, stateCookieName),
		CodeVerifier: cookieValue(r, verifierCookieName),
	}
	h.clients.clearCookie(w, stateCookieName, oauthCookiePath)
	h.clients.clearCookie(w, verifierCookieName, oauthCookiePath)

	res, err := h.oauth.HandleCallback(r.Context(), in)
	client, _ := clientType(r, chi.URLParam(r, "client"))
	if res != nil {
		client = res.Client
	}
	if err != nil {
		code := service.AsError(err).Code
		observability.Audit(r, "oauth.callback", "provider", string(provider), "outcome", code)
		http.Redirect(w, r, h.clients.landing(client, url.Values{"error": {code}}), http.StatusFound)
		return
	}

	out := res.Outcome
	observability.Audit(r, "oauth.callback", "provider", string(provider), "outcome", string(out.Kind), "user_id", string(out.UserID))
	values := url.Values{"outcome": {string(out.Kind)}}
	switch {
	case out.SessionToken != "":
		if client == domain.ClientTypeMobile {
			values.Set("session_token", out.SessionToken)
			values.Set("expires_at", strconv.FormatInt(out.SessionExpiresAt.Unix(), 10))
		} else {
			h.clients.sessionCookies().Set(w, out.SessionToken, out.SessionExpiresAt)
		}
	case out.AssociationToken != "":
		if client == domain.ClientTypeMobile {
			values.Set("association_token", out.AssociationToken)
		} else {
			h.clients.setShortCookie(w, associationCookieName, out.AssociationToken, associationCookiePath)
		}
	}
	http.Redirect(w, r, h.clients.landing(client, values), http.StatusFound)
}

const associationCookiePath = "/api/v1/auth/association"

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	client, ok := clientType(r, "")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "UNKNOWN_CLIENT", "unknown client type", nil)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.auth.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "auth.login", "user_id", string(res.User.ID))
	h.clients.writeLogin(w, r, http.StatusOK, client, res)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	authenticated, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), authenticated.Token); err != nil {
		response.FromError(w, r, err)
		return
	}
	h.clients.sessionCookies().Clear(w)
	observability.Audit(r, "auth.logout", "user_id", string(authenticated.Session.UserID))
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (h *AuthHandler) SignupRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.signup.Request(r.Context(), req.Email)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, tokenResponse{Token: token})
}

func (h *AuthHandler) SignupVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.signup.VerifyEmail(r.Context(), req.Token, req.Code); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}

func (h *AuthHandler) SignupConfirm(w http.ResponseWriter, r *http.Request) {
	client, ok := clientType(r, "")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "UNKNOWN_CLIENT", "unknown client type", nil)
		return
	}
	var req signupConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.signup.Confirm(r.Context(), req.Token, req.Name, req.Password)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "auth.signup", "user_id", string(res.User.ID))
	h.clients.writeLogin(w, r, http.StatusCreated, client, res)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	token, err := h.reset.Request(r.Context(), req.Email)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, tokenResponse{Token: token})
}

func (h *AuthHandler) ForgotPasswordVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.reset.VerifyEmail(r.Context(), req.Token, req.Code); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}

func (h *AuthHandler) ForgotPasswordReset(w http.ResponseWriter, r *http.Request) {
	client, ok := clientType(r, "")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "UNKNOWN_CLIENT", "unknown client type", nil)
		return
	}
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.reset.Reset(r.Context(), req.Token, req.Password)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "auth.password_reset", "user_id", string(res.User.ID))
	h.clients.writeLogin(w, r, http.StatusOK, client, res)
}

// associationToken prefers an explicit token and falls back to the web cookie.
func associationToken(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return cookieValue(r, associationCookieName)
}

func (h *AuthHandler) AssociationPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.associations.Preview(r.Context(), associationToken(r, r.URL.Query().Get("token")))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, preview)
}

func (h *AuthHandler) AssociationConfirm(w http.ResponseWriter, r *http.Request) {
	client, ok := clientType(r, "")
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "UNKNOWN_CLIENT", "unknown client type", nil)
		return
	}
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.associations.Confirm(r.Context(), associationToken(r, req.Token), req.Code)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.clients.clearCookie(w, associationCookieName, associationCookiePath)
	observability.Audit(r, "auth.association_confirmed", "user_id", string(res.User.ID))
	h.clients.writeLogin(w, r, http.StatusOK, client, res)
}
