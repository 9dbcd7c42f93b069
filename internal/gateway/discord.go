package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

var DiscordEndpoints = Endpoints{
	OAuth: oauth2.Endpoint{
		AuthURL:   "https://discord.com/oauth2/authorize",
		TokenURL:  "https://discord.com/api/oauth2/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	},
	UserInfo: "https://discord.com/api/users/@me",
	Revoke:   "https://discord.com/api/oauth2/token/revoke",
}

const discordAvatarBase = "https://cdn.discordapp.com/avatars"

type DiscordGateway struct {
	*oauthGateway
}

func NewDiscordGateway(creds Credentials, endpoints Endpoints, client *http.Client) *DiscordGateway {
	g := newOAuthGateway(domain.ProviderDiscord, creds, endpoints, []string{"identify", "email"}, client)
	g.authOptions = []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "consent")}
	g.parseAccount = parseDiscordAccount
	g.revokeAuth = true
	return &DiscordGateway{oauthGateway: g}
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
	Avatar     string `json:"avatar"`
}

func parseDiscordAccount(body []byte) (*domain.ProviderAccountInfo, error) {
	var u discordUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, err
	}
	name := u.GlobalName
	if strings.TrimSpace(name) == "" {
		name = u.Username
	}
	info := &domain.ProviderAccountInfo{
		ProviderID:    u.ID,
		Email:         u.Email,
		EmailVerified: u.Verified,
		Name:          name,
	}
	if u.Avatar != "" && u.ID != "" {
		info.IconURL = fmt.Sprintf("%s/%s/%s.png", discordAvatarBase, u.ID, u.Avatar)
	}
	return info, nil
}
