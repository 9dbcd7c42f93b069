package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/http/middleware"
	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type UserHandler struct {
	auth   *service.AuthService
	links  *service.ProviderLinkService
	verify *service.EmailVerificationService
	oauth  *service.OAuthFlowCoordinator
	client ClientConfig
}

func NewUserHandler(auth *service.AuthService, links *service.ProviderLinkService, verify *service.EmailVerificationService, oauth *service.OAuthFlowCoordinator, client ClientConfig) *UserHandler {
	return &UserHandler{auth: auth, links: links, verify: verify, oauth: oauth, client: client}
}

func currentUserID(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	authenticated, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session", nil)
		return "", false
	}
	return authenticated.Session.UserID, true
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	user, err := h.auth.CurrentUser(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, user)
}

func (h *UserHandler) Providers(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	accounts, err := h.links.List(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []domain.OAuthAccount{}
	}
	response.JSON(w, r, http.StatusOK, accounts)
}

// LinkProvider starts a provider redirect whose callback links to the signed-in user.
func (h *UserHandler) LinkProvider(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	beginOAuth(w, r, h.oauth, h.client, domain.LinkIntent(userID))
}

func (h *UserHandler) UnlinkProvider(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "UNKNOWN_PROVIDER", "unknown provider", nil)
		return
	}
	if err := h.links.Unlink(r.Context(), userID, provider); err != nil {
		response.FromError(w, r, err)
		return
	}
	observability.Audit(r, "user.provider_unlinked", "user_id", string(userID), "provider", string(provider))
	response.NoContent(w)
}

func (h *UserHandler) RequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	token, err := h.verify.Request(r.Context(), userID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, tokenResponse{Token: token})
}

func (h *UserHandler) ConfirmEmailVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.verify.Confirm(r.Context(), userID, req.Token, req.Code); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]bool{"verified": true})
}
