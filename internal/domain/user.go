package domain

import "time"

type User struct {
	ID            UserID    `gorm:"primaryKey;size:64" json:"id"`
	Email         string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	EmailVerified bool      `gorm:"not null;default:false" json:"email_verified"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	IconURL       *string   `gorm:"size:2048" json:"icon_url,omitempty"`
	PasswordHash  *string   `gorm:"size:255" json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// OAuthAccount binds a provider identity to a user. (provider, provider_id) and
// (user_id, provider) are both unique.
type OAuthAccount struct {
	Provider   Provider  `gorm:"primaryKey;size:32;uniqueIndex:idx_oauth_accounts_user_provider,priority:2" json:"provider"`
	ProviderID string    `gorm:"primaryKey;size:255" json:"provider_id"`
	UserID     UserID    `gorm:"size:64;not null;uniqueIndex:idx_oauth_accounts_user_provider,priority:1" json:"user_id"`
	LinkedAt   time.Time `gorm:"not null" json:"linked_at"`
}
