package domain

import "time"

// SessionMeta holds the fields every session kind shares.
type SessionMeta[ID ~string] struct {
	ID         ID        `gorm:"primaryKey;size:64"`
	SecretHash []byte    `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	CreatedAt  time.Time
}

func (m *SessionMeta[ID]) Meta() *SessionMeta[ID] { return m }

func (m *SessionMeta[ID]) Expired(now time.Time) bool { return !now.Before(m.ExpiresAt) }

// SessionRecord is implemented by pointers to every session kind.
type SessionRecord[ID ~string] interface {
	Meta() *SessionMeta[ID]
}

type Session struct {
	SessionMeta[SessionID]
	UserID UserID `gorm:"size:64;index;not null"`
}

type EmailVerificationSession struct {
	SessionMeta[EmailVerificationSessionID]
	UserID UserID `gorm:"size:64;index;not null"`
	Email  string `gorm:"size:320;not null"`
	Code   string `gorm:"size:16;not null"`
}

type PasswordResetSession struct {
	SessionMeta[PasswordResetSessionID]
	UserID        UserID `gorm:"size:64;index;not null"`
	Email         string `gorm:"size:320;not null"`
	Code          string `gorm:"size:16;not null"`
	EmailVerified bool   `gorm:"not null;default:false"`
}

type SignupSession struct {
	SessionMeta[SignupSessionID]
	Email         string `gorm:"size:320;index;not null"`
	Code          string `gorm:"size:16;not null"`
	EmailVerified bool   `gorm:"not null;default:false"`
}

type AccountAssociationSession struct {
	SessionMeta[AccountAssociationSessionID]
	UserID     UserID   `gorm:"size:64;index;not null"`
	Email      string   `gorm:"size:320;not null"`
	Provider   Provider `gorm:"size:32;not null"`
	ProviderID string   `gorm:"size:255;not null"`
	Code       string   `gorm:"size:16"`
}

// SessionKind is the per-kind configuration of the session lifecycle.
type SessionKind struct {
	Name          string
	IDPrefix      string
	TTL           time.Duration
	RefreshWindow time.Duration
}

const (
	SessionIDPrefix                   = "ses_"
	EmailVerificationSessionIDPrefix  = "evs_"
	PasswordResetSessionIDPrefix      = "prs_"
	SignupSessionIDPrefix             = "sus_"
	AccountAssociationSessionIDPrefix = "aas_"
)

const (
	DefaultSessionTTL           = 30 * 24 * time.Hour
	DefaultSessionRefreshWindow = 15 * 24 * time.Hour
	DefaultOneTimeSessionTTL    = 10 * time.Minute
)
