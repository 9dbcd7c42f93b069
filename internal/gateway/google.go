package gateway

import (
	"encoding/json"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

var GoogleEndpoints = Endpoints{
	OAuth:    google.Endpoint,
	UserInfo: "https://openidconnect.googleapis.com/v1/userinfo",
	Revoke:   "https://oauth2.googleapis.com/revoke",
}

type GoogleGateway struct {
	*oauthGateway
}

func NewGoogleGateway(creds Credentials, endpoints Endpoints, client *http.Client) *GoogleGateway {
	g := newOAuthGateway(domain.ProviderGoogle, creds, endpoints, []string{"openid", "email", "profile"}, client)
	g.authOptions = []oauth2.AuthCodeOption{oauth2.AccessTypeOnline, oauth2.SetAuthURLParam("prompt", "select_account")}
	g.parseAccount = parseGoogleAccount
	return &GoogleGateway{oauthGateway: g}
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func parseGoogleAccount(body []byte) (*domain.ProviderAccountInfo, error) {
	var u googleUserInfo
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	return &domain.ProviderAccountInfo{
		ProviderID:    u.Sub,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Name:          u.Name,
		IconURL:       u.Picture,
	}, nil
}
