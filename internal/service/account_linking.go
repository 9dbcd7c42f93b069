package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

type LinkOutcomeKind string

const (
	OutcomeLogin                             LinkOutcomeKind = "LOGIN"
	OutcomeLinked                            LinkOutcomeKind = "LINKED"
	OutcomeSignupSuccess                     LinkOutcomeKind = "SIGNUP_SUCCESS"
	OutcomeAccountNotFoundButLinkable        LinkOutcomeKind = "ACCOUNT_NOT_FOUND_BUT_LINKABLE"
	OutcomeEmailAlreadyRegisteredButLinkable LinkOutcomeKind = "EMAIL_ALREADY_REGISTERED_BUT_LINKABLE"
)

// LinkOutcome is the result of a provider callback. SessionToken is set for LOGIN and
// SIGNUP_SUCCESS, AssociationToken for the two linkable outcomes.
type LinkOutcome struct {
	Kind             LinkOutcomeKind
	UserID           domain.UserID
	SessionToken     string
	SessionExpiresAt time.Time
	AssociationToken string
}

// AccountLinker decides what a verified provider identity means for the local user base.
type AccountLinker struct {
	users        repository.UserRepository
	accounts     repository.OAuthAccountRepository
	sessions     *LoginSessions
	associations *AccountAssociationSessions
	mailer       Mailer
	now          func() time.Time
	newUserID    func() domain.UserID
	logger       *slog.Logger
}

func NewAccountLinker(
	users repository.UserRepository,
	accounts repository.OAuthAccountRepository,
	sessions *LoginSessions,
	associations *AccountAssociationSessions,
	mailer Mailer,
	logger *slog.Logger,
) *AccountLinker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountLinker{
		users:        users,
		accounts:     accounts,
		sessions:     sessions,
		associations: associations,
		mailer:       mailer,
		now:          time.Now,
		newUserID:    func() domain.UserID { return domain.UserID(uuid.NewString()) },
		logger:       logger,
	}
}

func (l *AccountLinker) Decide(ctx context.Context, provider domain.Provider, intent domain.Intent, info domain.ProviderAccountInfo) (*LinkOutcome, error) {
	if intent.Kind == domain.IntentLinkToExistingUser {
		if err := l.linkToUser(ctx, intent.UserID, provider, info.ProviderID); err != nil {
			return nil, err
		}
		return &LinkOutcome{Kind: OutcomeLinked, UserID: intent.UserID}, nil
	}

	// A lost signup race shows up as a duplicate key; the second pass sees the winner's rows.
	for attempt := 0; ; attempt++ {
		existing, err := l.accounts.FindByProviderAndProviderID(ctx, provider, info.ProviderID)
		if err == nil {
			return l.login(ctx, existing.UserID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, repositoryError(err)
		}

		email := normalizeEmail(info.Email)
		switch intent.Kind {
		case domain.IntentLogin:
			return l.loginUnlinked(ctx, provider, info, email)
		case domain.IntentSignup:
			out, err := l.signup(ctx, provider, info, email)
			if errors.Is(err, repository.ErrDuplicate) {
				if attempt == 0 {
					continue
				}
				return nil, repositoryError(err)
			}
			return out, err
		default:
			return nil, ErrInvalidIntent
		}
	}
}

func (l *AccountLinker) login(ctx context.Context, userID domain.UserID) (*LinkOutcome, error) {
	session := &domain.Session{UserID: userID}
	token, err := l.sessions.Create(ctx, session)
	if err != nil {
		return nil, err
	}
	return &LinkOutcome{Kind: OutcomeLogin, UserID: userID, SessionToken: token, SessionExpiresAt: session.ExpiresAt}, nil
}

func (l *AccountLinker) loginUnlinked(ctx context.Context, provider domain.Provider, info domain.ProviderAccountInfo, email string) (*LinkOutcome, error) {
	user, err := l.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, repositoryError(err)
	}
	if !user.EmailVerified {
		return nil, ErrAccountNotFound
	}
	return l.propose(ctx, OutcomeAccountNotFoundButLinkable, user, provider, info.ProviderID)
}

func (l *AccountLinker) signup(ctx context.Context, provider domain.Provider, info domain.ProviderAccountInfo, email string) (*LinkOutcome, error) {
	user, err := l.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		linked, err := l.accounts.FindByUserIDAndProvider(ctx, user.ID, provider)
		switch {
		case err == nil && linked.ProviderID == info.ProviderID:
			// Registered by a concurrent signup for this same identity.
			return l.login(ctx, user.ID)
		case err == nil && user.EmailVerified:
			return nil, ErrAccountAlreadyRegistered
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return nil, repositoryError(err)
		}
		return l.propose(ctx, OutcomeEmailAlreadyRegisteredButLinkable, user, provider, info.ProviderID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, repositoryError(err)
	}

	now := l.now().UTC()
	user = &domain.User{
		ID:            l.newUserID(),
		Email:         email,
		EmailVerified: info.EmailVerified,
		Name:          displayName(info.Name, email),
	}
	if info.IconURL != "" {
		icon := info.IconURL
		user.IconURL = &icon
	}
	account := &domain.OAuthAccount{Provider: provider, ProviderID: info.ProviderID, UserID: user.ID, LinkedAt: now}
	session := &domain.Session{UserID: user.ID}
	token, err := l.sessions.Prepare(session)
	if err != nil {
		return nil, err
	}
	if err := l.users.Register(ctx, user, account, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		return nil, repositoryError(err)
	}
	return &LinkOutcome{Kind: OutcomeSignupSuccess, UserID: user.ID, SessionToken: token, SessionExpiresAt: session.ExpiresAt}, nil
}

// propose stores a pending link for user and mails the confirmation code to the user's address.
func (l *AccountLinker) propose(ctx context.Context, kind LinkOutcomeKind, user *domain.User, provider domain.Provider, providerID string) (*LinkOutcome, error) {
	code, err := security.GenerateCode()
	if err != nil {
		return nil, err
	}
	if err := l.associations.RevokeByUser(ctx, user.ID); err != nil {
		return nil, err
	}
	rec := &domain.AccountAssociationSession{
		UserID:     user.ID,
		Email:      user.Email,
		Provider:   provider,
		ProviderID: providerID,
		Code:       code,
	}
	token, err := l.associations.Create(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := l.mailer.Send(ctx, codeMessage(MailAccountAssociation, user.Email, code)); err != nil {
		l.associations.Discard(ctx, rec.ID, "mail_failed")
		return nil, ErrMailUnavailable.wrap(err)
	}
	return &LinkOutcome{Kind: kind, UserID: user.ID, AssociationToken: token}, nil
}

// linkToUser binds (provider, providerID) to userID, enforcing both uniqueness rules.
func (l *AccountLinker) linkToUser(ctx context.Context, userID domain.UserID, provider domain.Provider, providerID string) error {
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return repositoryError(err)
	}
	if err := l.checkLinkable(ctx, userID, provider, providerID); err != nil {
		return err
	}
	err := l.accounts.Save(ctx, &domain.OAuthAccount{Provider: provider, ProviderID: providerID, UserID: userID, LinkedAt: l.now().UTC()})
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrDuplicate) {
		if cerr := l.checkLinkable(ctx, userID, provider, providerID); cerr != nil {
			return cerr
		}
		return ErrProviderAlreadyLinked
	}
	return repositoryError(err)
}

func (l *AccountLinker) checkLinkable(ctx context.Context, userID domain.UserID, provider domain.Provider, providerID string) error {
	if _, err := l.accounts.FindByUserIDAndProvider(ctx, userID, provider); err == nil {
		return ErrProviderAlreadyLinked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return repositoryError(err)
	}
	existing, err := l.accounts.FindByProviderAndProviderID(ctx, provider, providerID)
	switch {
	case err == nil && existing.UserID != userID:
		return ErrAccountLinkedToAnother
	case err == nil:
		return ErrProviderAlreadyLinked
	case !errors.Is(err, repository.ErrNotFound):
		return repositoryError(err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
