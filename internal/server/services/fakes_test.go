package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/dbx"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
	"github.com/dmitrijs2005/tradeauth/internal/server/identity"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/oauthaccounts"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memDB is an in-memory stand-in for the Postgres schema shared by all
// fake repositories. Writes made inside a transaction are applied directly;
// rollback is asserted through sqlmock instead.
type memDB struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*models.User
	creds    map[string]*models.Credential
	accounts map[string]*models.OAuthAccount
	sessions map[string]*models.Session

	// errs injects failures by operation name, e.g. "users.FindByID".
	errs  map[string]error
	calls map[string]int
	// before runs under mu ahead of the named operation.
	before map[string]func(*memDB)
}

func newMemDB() *memDB {
	return &memDB{
		users:    map[string]*models.User{},
		creds:    map[string]*models.Credential{},
		accounts: map[string]*models.OAuthAccount{},
		sessions: map[string]*models.Session{},
		errs:     map[string]error{},
		calls:    map[string]int{},
		before:   map[string]func(*memDB){},
	}
}

func (m *memDB) enter(op string) error {
	m.calls[op]++
	if fn := m.before[op]; fn != nil {
		fn(m)
	}
	return m.errs[op]
}

func (m *memDB) fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
}

func (m *memDB) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memDB) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memDB) credential(userID string) models.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.creds[userID]
}

func (m *memDB) userByEmail(email string) *models.User {
	for _, u := range m.users {
		if u.Email == models.NormalizeEmail(email) {
			return u
		}
	}
	return nil
}

func (m *memDB) setStatus(userID string, st models.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].Status = st
}

func (m *memDB) deleteUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

func (m *memDB) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *memDB) hasSession(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[token]
	return ok
}

type fakeUsers struct{ m *memDB }

func (f fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("users.Create"); err != nil {
		return nil, err
	}
	if f.m.userByEmail(u.Email) != nil {
		return nil, common.ErrorAlreadyExists
	}
	u.ID = f.m.nextID("user")
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	f.m.users[u.ID] = &cp
	return u, nil
}

func (f fakeUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("users.FindByEmail"); err != nil {
		return nil, err
	}
	u := f.m.userByEmail(email)
	if u == nil {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("users.FindByID"); err != nil {
		return nil, err
	}
	u, ok := f.m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	return &cp, nil
}

func (f fakeUsers) FindByEmailWithCredential(_ context.Context, email string) (*models.UserWithCredential, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("users.FindByEmailWithCredential"); err != nil {
		return nil, err
	}
	u := f.m.userByEmail(email)
	if u == nil {
		return nil, common.ErrorNotFound
	}
	out := &models.UserWithCredential{User: *u}
	if c, ok := f.m.creds[u.ID]; ok {
		cp := *c
		out.Credential = &cp
	}
	return out, nil
}

func (f fakeUsers) UpdateLastLogin(_ context.Context, id string, ip string, at time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("users.UpdateLastLogin"); err != nil {
		return err
	}
	if u, ok := f.m.users[id]; ok {
		u.LastLoginAt = &at
		u.LastLoginIP = ip
	}
	return nil
}

type fakeCredentials struct{ m *memDB }

func (f fakeCredentials) Create(_ context.Context, c *models.Credential) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("credentials.Create"); err != nil {
		return err
	}
	cp := *c
	f.m.creds[c.UserID] = &cp
	return nil
}

func (f fakeCredentials) RegisterFailure(_ context.Context, userID string, threshold int, lockUntil time.Time) (*models.FailureRecord, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("credentials.RegisterFailure"); err != nil {
		return nil, err
	}
	c, ok := f.m.creds[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c.FailedAttempts++
	if c.FailedAttempts >= threshold {
		lu := lockUntil
		c.LockedUntil = &lu
	}
	return &models.FailureRecord{FailedAttempts: c.FailedAttempts, LockedUntil: c.LockedUntil}, nil
}

func (f fakeCredentials) Reset(_ context.Context, userID string, now time.Time) (*models.FailureRecord, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("credentials.Reset"); err != nil {
		return nil, err
	}
	c, ok := f.m.creds[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if c.LockedUntil == nil || !c.LockedUntil.After(now) {
		c.FailedAttempts = 0
		c.LockedUntil = nil
	}
	return &models.FailureRecord{FailedAttempts: c.FailedAttempts, LockedUntil: c.LockedUntil}, nil
}

func (f fakeCredentials) Unlock(_ context.Context, userID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("credentials.Unlock"); err != nil {
		return err
	}
	c, ok := f.m.creds[userID]
	if !ok {
		return common.ErrorNotFound
	}
	c.FailedAttempts = 0
	c.LockedUntil = nil
	return nil
}

func (f fakeCredentials) Lock(_ context.Context, userID string, until time.Time) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("credentials.Lock"); err != nil {
		return err
	}
	c, ok := f.m.creds[userID]
	if !ok {
		return common.ErrorNotFound
	}
	c.LockedUntil = &until
	return nil
}

type fakeAccounts struct{ m *memDB }

func (f fakeAccounts) Find(_ context.Context, provider, subject string) (*models.OAuthAccount, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("oauth.Find"); err != nil {
		return nil, err
	}
	a, ok := f.m.accounts[provider+"|"+subject]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f fakeAccounts) Create(_ context.Context, a *models.OAuthAccount) (*models.OAuthAccount, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("oauth.Create"); err != nil {
		return nil, err
	}
	k := a.Provider + "|" + a.ProviderSubject
	if _, ok := f.m.accounts[k]; ok {
		return nil, common.ErrorAlreadyExists
	}
	a.ID = f.m.nextID("acc")
	cp := *a
	f.m.accounts[k] = &cp
	return a, nil
}

type fakeSessions struct{ m *memDB }

func (f fakeSessions) Create(_ context.Context, s *models.Session) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("sessions.Create"); err != nil {
		return err
	}
	s.ID = f.m.nextID("sess")
	s.CreatedAt = time.Now()
	cp := *s
	f.m.sessions[s.Token] = &cp
	return nil
}

func (f fakeSessions) Find(_ context.Context, token string) (*models.Session, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("sessions.Find"); err != nil {
		return nil, err
	}
	s, ok := f.m.sessions[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (f fakeSessions) Delete(_ context.Context, token string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("sessions.Delete"); err != nil {
		return err
	}
	delete(f.m.sessions, token)
	return nil
}

func (f fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if err := f.m.enter("sessions.DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	for k, s := range f.m.sessions {
		if s.ExpiresAt.Before(now) {
			delete(f.m.sessions, k)
			n++
		}
	}
	return n, nil
}

// fakeManager hands out the same in-memory repositories for the pool and
// for transactions.
type fakeManager struct{ m *memDB }

func (f fakeManager) RunMigrations(context.Context, *sql.DB) error    { return nil }
func (f fakeManager) Users(dbx.DBTX) users.Repository                 { return fakeUsers{f.m} }
func (f fakeManager) Credentials(dbx.DBTX) credentials.Repository     { return fakeCredentials{f.m} }
func (f fakeManager) OAuthAccounts(dbx.DBTX) oauthaccounts.Repository { return fakeAccounts{f.m} }
func (f fakeManager) Sessions(dbx.DBTX) sessions.Repository           { return fakeSessions{f.m} }

// fakeClock is a settable clock shared by the service and its issuer.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeVerifier accepts assertions of the form "ok:<key>" and returns the
// identity registered under key.
type fakeVerifier struct {
	provider   string
	identities map[string]identity.Assertion
	err        error
}

func (v *fakeVerifier) Provider() string { return v.provider }

func (v *fakeVerifier) Verify(_ context.Context, raw string) (identity.Assertion, error) {
	if v.err != nil {
		return identity.Assertion{}, v.err
	}
	a, ok := v.identities[raw]
	if !ok {
		return identity.Assertion{}, fmt.Errorf("%w: unknown assertion", identity.ErrAssertionRejected)
	}
	return a, nil
}

func testConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.SecretKey = "test-secret"
	c.BcryptCost = bcrypt.MinCost
	return c
}

type testEnv struct {
	svc      *AuthService
	db       *memDB
	mock     sqlmock.Sqlmock
	clock    *fakeClock
	verifier *fakeVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mem := newMemDB()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	v := &fakeVerifier{provider: identity.ProviderGoogle, identities: map[string]identity.Assertion{}}

	svc, err := NewAuthService(sqlDB, fakeManager{mem}, testConfig(), identity.NewVerifiers(v), logging.Nop{}, WithClock(clock.Now))
	require.NoError(t, err)

	return &testEnv{svc: svc, db: mem, mock: mock, clock: clock, verifier: v}
}

// expectTx registers a committed transaction with sqlmock.
func (e *testEnv) expectTx() {
	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
}

func (e *testEnv) register(t *testing.T, email, pass string) *AuthResult {
	t.Helper()
	e.expectTx()
	res, err := e.svc.Register(context.Background(), email, pass, "Alice", "Trader", ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}
