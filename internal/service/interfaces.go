package service

import (
	"context"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

// OAuthProviderGateway is the per-provider OAuth client. Implementations live in internal/gateway.
type OAuthProviderGateway interface {
	Provider() domain.Provider
	AuthorizationURL(state, codeVerifier, redirectURL string) string
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (domain.ProviderTokens, error)
	// FetchAccountInfo returns nil info when the provider reports no usable identity.
	FetchAccountInfo(ctx context.Context, accessToken string) (*domain.ProviderAccountInfo, error)
	RevokeToken(ctx context.Context, token string) error
}

type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}
