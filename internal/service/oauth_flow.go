package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/security"
)

const defaultStateTTL = 10 * time.Minute

type AuthorizationRequest struct {
	SignedState      string
	CodeVerifier     string
	AuthorizationURL string
}

type CallbackInput struct {
	Provider     domain.Provider
	State        string
	Code         string
	Error        string
	CookieState  string
	CodeVerifier string
}

type CallbackResult struct {
	Client  domain.ClientType
	Intent  domain.Intent
	Outcome *LinkOutcome
}

// oauthState travels through the provider redirect inside the signed state.
type oauthState struct {
	Provider  domain.Provider   `json:"provider"`
	Client    domain.ClientType `json:"client"`
	Intent    domain.Intent     `json:"intent"`
	ExpiresAt int64             `json:"exp"`
}

func (s *oauthState) Validate() error {
	if _, err := domain.ParseProvider(string(s.Provider)); err != nil {
		return err
	}
	if _, err := domain.ParseClientType(string(s.Client)); err != nil {
		return err
	}
	if !s.Intent.Valid() {
		return errors.New("invalid intent")
	}
	if s.ExpiresAt <= 0 {
		return errors.New("missing expiry")
	}
	return nil
}

type OAuthFlowCoordinator struct {
	gateways        map[domain.Provider]OAuthProviderGateway
	codec           *security.SignedStateCodec
	linker          *AccountLinker
	apiBaseURL      string
	stateTTL        time.Duration
	upstreamTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func NewOAuthFlowCoordinator(
	gateways []OAuthProviderGateway,
	codec *security.SignedStateCodec,
	linker *AccountLinker,
	apiBaseURL string,
	upstreamTimeout time.Duration,
	logger *slog.Logger,
) *OAuthFlowCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	byProvider := make(map[domain.Provider]OAuthProviderGateway, len(gateways))
	for _, g := range gateways {
		byProvider[g.Provider()] = g
	}
	return &OAuthFlowCoordinator{
		gateways:        byProvider,
		codec:           codec,
		linker:          linker,
		apiBaseURL:      strings.TrimRight(apiBaseURL, "/"),
		stateTTL:        defaultStateTTL,
		upstreamTimeout: upstreamTimeout,
		now:             time.Now,
		logger:          logger,
	}
}

// CallbackURL is the redirect URI registered with the provider for this client and intent.
func (c *OAuthFlowCoordinator) CallbackURL(provider domain.Provider, client domain.ClientType, intent domain.IntentKind) string {
	return fmt.Sprintf("%s/api/v1/auth/%s/%s/%s/callback",
		c.apiBaseURL, url.PathEscape(string(client)), url.PathEscape(string(intent)), url.PathEscape(string(provider)))
}

func (c *OAuthFlowCoordinator) BuildAuthorizationRequest(provider domain.Provider, client domain.ClientType, intent domain.Intent) (*AuthorizationRequest, error) {
	gw, ok := c.gateways[provider]
	if !ok {
		return nil, ErrProviderNotConfigured
	}
	if !intent.Valid() {
		return nil, ErrInvalidIntent
	}
	verifier := oauth2.GenerateVerifier()
	signed, err := c.codec.Sign(oauthState{
		Provider:  provider,
		Client:    client,
		Intent:    intent,
		ExpiresAt: c.now().Add(c.stateTTL).Unix(),
	})
	if err != nil {
		return nil, err
	}
	return &AuthorizationRequest{
		SignedState:      signed,
		CodeVerifier:     verifier,
		AuthorizationURL: gw.AuthorizationURL(signed, verifier, c.CallbackURL(provider, client, intent.Kind)),
	}, nil
}

// HandleCallback verifies the redirect, exchanges the code once and resolves the provider identity.
// The code exchange is never retried: authorization codes are single use.
func (c *OAuthFlowCoordinator) HandleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	ctx, span := observability.StartSpan(ctx, "oauth.callback")
	defer span.End()

	res, err := c.handleCallback(ctx, in)
	intent := "unknown"
	if res != nil {
		intent = string(res.Intent.Kind)
	}
	outcome := "error"
	switch {
	case err != nil:
		outcome = AsError(err).Code
		span.RecordError(err)
	case res.Outcome != nil:
		outcome = string(res.Outcome.Kind)
	}
	observability.RecordOAuthCallback(ctx, string(in.Provider), intent, outcome)
	return res, err
}

func (c *OAuthFlowCoordinator) handleCallback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	if in.Error != "" {
		if in.Error == "access_denied" {
			return nil, ErrAccessDenied
		}
		return nil, ErrProviderError.wrap(fmt.Errorf("provider returned %q", in.Error))
	}
	if in.State == "" || in.CookieState == "" || !security.EqualConstantTime(in.State, in.CookieState) {
		return nil, ErrInvalidState
	}

	var st oauthState
	if err := c.codec.Verify(in.CookieState, &st); err != nil {
		if errors.Is(err, security.ErrSignedStateSignature) {
			return nil, ErrInvalidSignedState
		}
		return nil, ErrSignedStateDecode.wrap(err)
	}
	if st.Provider != in.Provider || c.now().Unix() >= st.ExpiresAt {
		return nil, ErrInvalidSignedState
	}
	result := &CallbackResult{Client: st.Client, Intent: st.Intent}

	if in.Code == "" {
		return result, ErrCodeMissing
	}
	gw, ok := c.gateways[st.Provider]
	if !ok {
		return result, ErrProviderNotConfigured
	}

	info, err := c.fetchIdentity(ctx, gw, in.Code, in.CodeVerifier, c.CallbackURL(st.Provider, st.Client, st.Intent.Kind))
	if err != nil {
		return result, err
	}
	outcome, err := c.linker.Decide(ctx, st.Provider, st.Intent, *info)
	if err != nil {
		return result, err
	}
	result.Outcome = outcome
	return result, nil
}

func (c *OAuthFlowCoordinator) fetchIdentity(ctx context.Context, gw OAuthProviderGateway, code, verifier, redirectURL string) (*domain.ProviderAccountInfo, error) {
	exchangeCtx, cancel := c.upstreamContext(ctx)
	tokens, err := gw.ExchangeCode(exchangeCtx, code, verifier, redirectURL)
	cancel()
	if err != nil {
		return nil, ErrUpstreamExchange.wrap(err)
	}
	defer c.revoke(ctx, gw, tokens.AccessToken)

	fetchCtx, cancel := c.upstreamContext(ctx)
	defer cancel()
	info, err := gw.FetchAccountInfo(fetchCtx, tokens.AccessToken)
	if err != nil {
		return nil, ErrAccountInfo.wrap(err)
	}
	if info == nil || info.ProviderID == "" || normalizeEmail(info.Email) == "" {
		return nil, ErrAccountInfo
	}
	return info, nil
}

// revoke is best effort and runs even if the inbound request was cancelled.
func (c *OAuthFlowCoordinator) revoke(ctx context.Context, gw OAuthProviderGateway, token string) {
	if token == "" {
		return
	}
	rctx, cancel := c.upstreamContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := gw.RevokeToken(rctx, token); err != nil {
		c.logger.WarnContext(ctx, "provider token revoke failed", "provider", string(gw.Provider()), "error", err)
	}
}

func (c *OAuthFlowCoordinator) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.upstreamTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.upstreamTimeout)
}
