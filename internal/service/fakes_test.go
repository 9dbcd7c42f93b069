package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

const testPepper = "0123456789abcdef0123456789abcdef"

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memorySessionRepo[ID ~string, T any, R interface {
	*T
	domain.SessionRecord[ID]
}] struct {
	mu      sync.Mutex
	records map[ID]T
	owner   func(*T) domain.UserID
	saves   int

	// deleteErr, when set, fails every DeleteByID.
	deleteErr error
}

func newMemorySessionRepo[ID ~string, T any, R interface {
	*T
	domain.SessionRecord[ID]
}](owner func(*T) domain.UserID) *memorySessionRepo[ID, T, R] {
	return &memorySessionRepo[ID, T, R]{records: make(map[ID]T), owner: owner}
}

func (m *memorySessionRepo[ID, T, R]) FindByID(_ context.Context, id ID) (*T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memorySessionRepo[ID, T, R]) Save(_ context.Context, rec *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.records[R(rec).Meta().ID] = *rec
	return nil
}

func (m *memorySessionRepo[ID, T, R]) DeleteByID(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, id)
	return nil
}

func (m *memorySessionRepo[ID, T, R]) DeleteByUserID(_ context.Context, userID domain.UserID) error {
	if m.owner == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if m.owner(&rec) == userID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memorySessionRepo[ID, T, R]) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if !now.Before(R(&rec).Meta().ExpiresAt) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *memorySessionRepo[ID, T, R]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memorySessionRepo[ID, T, R]) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// memoryIdentityStore backs both the user and the oauth account fakes so Register can be atomic.
type memoryIdentityStore struct {
	mu       sync.Mutex
	users    map[domain.UserID]domain.User
	accounts []domain.OAuthAccount
	sessions *memorySessionRepo[domain.SessionID, domain.Session, *domain.Session]
}

func newMemoryIdentityStore(sessions *memorySessionRepo[domain.SessionID, domain.Session, *domain.Session]) *memoryIdentityStore {
	return &memoryIdentityStore{users: make(map[domain.UserID]domain.User), sessions: sessions}
}

type memoryUsers struct{ s *memoryIdentityStore }
type memoryAccounts struct{ s *memoryIdentityStore }

func (m memoryUsers) FindByID(_ context.Context, id domain.UserID) (*domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m memoryUsers) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memoryUsers) Create(_ context.Context, user *domain.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.insertUserLocked(user)
}

func (m memoryUsers) Update(_ context.Context, user *domain.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.users[user.ID] = *user
	return nil
}

func (m memoryUsers) Register(ctx context.Context, user *domain.User, account *domain.OAuthAccount, session *domain.Session) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.checkUserLocked(user); err != nil {
		return err
	}
	if account != nil {
		if err := m.s.checkAccountLocked(account); err != nil {
			return err
		}
	}
	m.s.users[user.ID] = *user
	if account != nil {
		m.s.accounts = append(m.s.accounts, *account)
	}
	if session != nil {
		return m.s.sessions.Save(ctx, session)
	}
	return nil
}

func (s *memoryIdentityStore) checkUserLocked(user *domain.User) error {
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%w: user id", repository.ErrDuplicate)
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return fmt.Errorf("%w: email", repository.ErrDuplicate)
		}
	}
	return nil
}

func (s *memoryIdentityStore) insertUserLocked(user *domain.User) error {
	if err := s.checkUserLocked(user); err != nil {
		return err
	}
	s.users[user.ID] = *user
	return nil
}

func (s *memoryIdentityStore) checkAccountLocked(account *domain.OAuthAccount) error {
	for _, a := range s.accounts {
		if a.Provider == account.Provider && (a.ProviderID == account.ProviderID || a.UserID == account.UserID) {
			return fmt.Errorf("%w: oauth account", repository.ErrDuplicate)
		}
	}
	return nil
}

func (m memoryAccounts) FindByProviderAndProviderID(_ context.Context, provider domain.Provider, providerID string) (*domain.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.accounts {
		if a.Provider == provider && a.ProviderID == providerID {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memoryAccounts) FindByUserIDAndProvider(_ context.Context, userID domain.UserID, provider domain.Provider) (*domain.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.accounts {
		if a.UserID == userID && a.Provider == provider {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memoryAccounts) ListByUserID(_ context.Context, userID domain.UserID) ([]domain.OAuthAccount, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []domain.OAuthAccount
	for _, a := range m.s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m memoryAccounts) Save(_ context.Context, account *domain.OAuthAccount) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if err := m.s.checkAccountLocked(account); err != nil {
		return err
	}
	m.s.accounts = append(m.s.accounts, *account)
	return nil
}

func (m memoryAccounts) DeleteByUserIDAndProvider(_ context.Context, userID domain.UserID, provider domain.Provider) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	kept := m.s.accounts[:0]
	for _, a := range m.s.accounts {
		if a.UserID == userID && a.Provider == provider {
			continue
		}
		kept = append(kept, a)
	}
	m.s.accounts = kept
	return nil
}

func (s *memoryIdentityStore) userCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *memoryIdentityStore) accountCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

var codePattern = regexp.MustCompile(`\d{8}`)

type recordingMailer struct {
	mu   sync.Mutex
	sent []MailMessage
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// lastCode returns the code embedded in the most recent message.
func (m *recordingMailer) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return codePattern.FindString(m.sent[len(m.sent)-1].Body)
}

// harness wires every service against in-memory collaborators and a controllable clock.
type harness struct {
	clock        *testClock
	hasher       *security.SecretHasher
	store        *memoryIdentityStore
	users        memoryUsers
	accounts     memoryAccounts
	sessionRepo  *memorySessionRepo[domain.SessionID, domain.Session, *domain.Session]
	assocRepo    *memorySessionRepo[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession]
	sessions     *LoginSessions
	associations *AccountAssociationSessions
	emailVerify  *EmailVerificationSessions
	resets       *PasswordResetSessions
	signups      *SignupSessions
	mailer       *recordingMailer
	limiter      *RateLimiter
	linker       *AccountLinker
}

var testCodePolicy = RateLimitPolicy{Scope: "code", MaxTokens: 5, RefillRate: 5, RefillInterval: 10 * time.Minute, Cost: 1}

func newHarness() *harness {
	h := &harness{clock: newTestClock(), mailer: &recordingMailer{}}
	hasher, err := security.NewSecretHasher(testPepper)
	if err != nil {
		panic(err)
	}
	h.hasher = hasher
	kinds := SessionKinds(domain.DefaultSessionTTL, domain.DefaultSessionRefreshWindow, domain.DefaultOneTimeSessionTTL, domain.DefaultOneTimeSessionTTL)

	h.sessionRepo = newMemorySessionRepo[domain.SessionID, domain.Session, *domain.Session](func(s *domain.Session) domain.UserID { return s.UserID })
	h.assocRepo = newMemorySessionRepo[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession](func(s *domain.AccountAssociationSession) domain.UserID { return s.UserID })
	h.store = newMemoryIdentityStore(h.sessionRepo)
	h.users = memoryUsers{h.store}
	h.accounts = memoryAccounts{h.store}

	h.sessions = NewSessionLifecycle[domain.SessionID, domain.Session, *domain.Session](kinds.Login, h.sessionRepo, hasher, h.clock.Now)
	h.associations = NewSessionLifecycle[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession](kinds.AccountAssociation, h.assocRepo, hasher, h.clock.Now)
	h.emailVerify = NewSessionLifecycle[domain.EmailVerificationSessionID, domain.EmailVerificationSession, *domain.EmailVerificationSession](
		kinds.EmailVerification,
		newMemorySessionRepo[domain.EmailVerificationSessionID, domain.EmailVerificationSession, *domain.EmailVerificationSession](func(s *domain.EmailVerificationSession) domain.UserID { return s.UserID }),
		hasher, h.clock.Now)
	h.resets = NewSessionLifecycle[domain.PasswordResetSessionID, domain.PasswordResetSession, *domain.PasswordResetSession](
		kinds.PasswordReset,
		newMemorySessionRepo[domain.PasswordResetSessionID, domain.PasswordResetSession, *domain.PasswordResetSession](func(s *domain.PasswordResetSession) domain.UserID { return s.UserID }),
		hasher, h.clock.Now)
	h.signups = NewSessionLifecycle[domain.SignupSessionID, domain.SignupSession, *domain.SignupSession](
		kinds.Signup,
		newMemorySessionRepo[domain.SignupSessionID, domain.SignupSession, *domain.SignupSession](nil),
		hasher, h.clock.Now)

	h.limiter = NewRateLimiter(NewMemoryBucketStore(time.Minute, h.clock.Now), FailClosed, h.clock.Now)
	h.linker = NewAccountLinker(h.users, h.accounts, h.sessions, h.associations, h.mailer, discardLogger())
	h.linker.now = h.clock.Now
	return h
}

func (h *harness) addUser(id domain.UserID, email string, verified bool, password string) *domain.User {
	u := &domain.User{ID: id, Email: email, EmailVerified: verified, Name: string(id)}
	if password != "" {
		hash, err := security.HashPassword(password)
		if err != nil {
			panic(err)
		}
		u.PasswordHash = &hash
	}
	if err := h.users.Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (h *harness) link(userID domain.UserID, provider domain.Provider, providerID string) {
	if err := h.accounts.Save(context.Background(), &domain.OAuthAccount{Provider: provider, ProviderID: providerID, UserID: userID, LinkedAt: h.clock.Now()}); err != nil {
		panic(err)
	}
}
