// Package gateway talks to the external OAuth providers: authorization URLs, PKCE code
// exchange, account lookup and token revocation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

const maxResponseBytes = 1 << 20

var ErrUnexpectedStatus = errors.New("unexpected provider response status")

// Endpoints lets tests and self-hosted deployments point a gateway somewhere else.
type Endpoints struct {
	OAuth    oauth2.Endpoint
	UserInfo string
	Revoke   string
}

type Credentials struct {
	ClientID     string
	ClientSecret string
}

// oauthGateway implements the provider-agnostic part of the authorization code flow.
// Provider files supply scopes, endpoints and the account info parser.
type oauthGateway struct {
	provider     domain.Provider
	config       oauth2.Config
	endpoints    Endpoints
	client       *http.Client
	authOptions  []oauth2.AuthCodeOption
	parseAccount func([]byte) (*domain.ProviderAccountInfo, error)
	revokeAuth   bool
}

// NewHTTPClient returns the traced client shared by all gateways.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func newOAuthGateway(provider domain.Provider, creds Credentials, endpoints Endpoints, scopes []string, client *http.Client) *oauthGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &oauthGateway{
		provider: provider,
		config: oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     endpoints.OAuth,
			Scopes:       scopes,
		},
		endpoints: endpoints,
		client:    client,
	}
}

func (g *oauthGateway) Provider() domain.Provider { return g.provider }

func (g *oauthGateway) withRedirect(redirectURL string) *oauth2.Config {
	cfg := g.config
	cfg.RedirectURL = redirectURL
	return &cfg
}

func (g *oauthGateway) AuthorizationURL(state, codeVerifier, redirectURL string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(codeVerifier)}, g.authOptions...)
	return g.withRedirect(redirectURL).AuthCodeURL(state, opts...)
}

func (g *oauthGateway) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (domain.ProviderTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	tok, err := g.withRedirect(redirectURL).Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return domain.ProviderTokens{}, fmt.Errorf("%s code exchange: %w", g.provider, err)
	}
	return domain.ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
	}, nil
}

func (g *oauthGateway) FetchAccountInfo(ctx context.Context, accessToken string) (*domain.ProviderAccountInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoints.UserInfo, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	body, err := g.do(req)
	if err != nil {
		return nil, fmt.Errorf("%s account info: %w", g.provider, err)
	}
	info, err := g.parseAccount(body)
	if err != nil {
		return nil, fmt.Errorf("%s account info: %w", g.provider, err)
	}
	return info, nil
}

func (g *oauthGateway) RevokeToken(ctx context.Context, token string) error {
	if g.endpoints.Revoke == "" {
		return nil
	}
	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.Revoke, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.revokeAuth {
		req.SetBasicAuth(url.QueryEscape(g.config.ClientID), url.QueryEscape(g.config.ClientSecret))
	}
	if _, err := g.do(req); err != nil {
		return fmt.Errorf("%s revoke: %w", g.provider, err)
	}
	return nil
}

func (g *oauthGateway) do(req *http.Request) ([]byte, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return body, nil
}
