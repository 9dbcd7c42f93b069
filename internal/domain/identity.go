package domain

import "fmt"

type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderDiscord Provider = "discord"
)

func ParseProvider(raw string) (Provider, error) {
	switch Provider(raw) {
	case ProviderGoogle, ProviderDiscord:
		return Provider(raw), nil
	}
	return "", fmt.Errorf("unknown provider %q", raw)
}

type ClientType string

const (
	ClientTypeWeb    ClientType = "web"
	ClientTypeMobile ClientType = "mobile"
)

func ParseClientType(raw string) (ClientType, error) {
	switch ClientType(raw) {
	case ClientTypeWeb, ClientTypeMobile:
		return ClientType(raw), nil
	}
	return "", fmt.Errorf("unknown client type %q", raw)
}

type IntentKind string

const (
	IntentLogin              IntentKind = "login"
	IntentSignup             IntentKind = "signup"
	IntentLinkToExistingUser IntentKind = "link"
)

// Intent is carried through the provider redirect inside the signed state.
type Intent struct {
	Kind   IntentKind `json:"kind"`
	UserID UserID     `json:"user_id,omitempty"`
}

func LoginIntent() Intent  { return Intent{Kind: IntentLogin} }
func SignupIntent() Intent { return Intent{Kind: IntentSignup} }

func LinkIntent(userID UserID) Intent {
	return Intent{Kind: IntentLinkToExistingUser, UserID: userID}
}

func (i Intent) Valid() bool {
	switch i.Kind {
	case IntentLogin, IntentSignup:
		return i.UserID == ""
	case IntentLinkToExistingUser:
		return i.UserID != ""
	}
	return false
}

// ProviderAccountInfo is what a gateway reports about the signed-in provider identity.
type ProviderAccountInfo struct {
	ProviderID    string
	Email         string
	EmailVerified bool
	Name          string
	IconURL       string
}

// ProviderTokens holds the tokens returned by a code exchange.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}
