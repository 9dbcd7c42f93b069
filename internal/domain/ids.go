package domain

// Each session kind has its own ID type so one kind's ID cannot be passed where another is expected.
type (
	UserID                      string
	SessionID                   string
	EmailVerificationSessionID  string
	PasswordResetSessionID      string
	SignupSessionID             string
	AccountAssociationSessionID string
)

func (id UserID) String() string { return string(id) }
