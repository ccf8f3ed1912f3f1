package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/autherr"
	"github.com/dmitrijs2005/tradeauth/internal/server/identity"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var client = ClientInfo{IP: "203.0.113.7", UserAgent: "trader-app/1.0"}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)

	res := env.register(t, "  Alice@X.com ", "Passw0rd!")

	assert.Equal(t, "alice@x.com", res.User.Email)
	assert.Equal(t, models.StatusPendingVerification, res.User.Status)
	assert.Equal(t, models.RoleTrader, res.User.Role)
	assert.False(t, res.User.EmailVerified)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)

	cred := env.db.credential(res.User.ID)
	assert.NotEqual(t, "Passw0rd!", cred.PasswordHash)
	assert.True(t, env.db.hasSession(res.RefreshToken))

	claims, err := env.svc.Issuer().Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.Subject)
	assert.Equal(t, token.TypeAccess, claims.Type)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@x.com", "Passw0rd!")

	_, err := env.svc.Register(context.Background(), "ALICE@x.com", "other", "", "", client)
	assert.Equal(t, autherr.KindConflict, autherr.KindOf(err))
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegister_InsertRaceIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.db.fail("users.Create", common.ErrorAlreadyExists)
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.Register(context.Background(), "bob@x.com", "Passw0rd!", "", "", client)
	assert.Equal(t, autherr.KindConflict, autherr.KindOf(err))
	assert.Zero(t, env.db.sessionCount())
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegister_CredentialFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.db.fail("credentials.Create", errors.New("boom"))
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.Register(context.Background(), "bob@x.com", "Passw0rd!", "", "", client)
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, "not-an-email", "pw", "", "", client)
	assert.Equal(t, autherr.KindInvalidArgument, autherr.KindOf(err))

	_, err = env.svc.Register(ctx, "a@x.com", "", "", "", client)
	assert.Equal(t, autherr.KindInvalidArgument, autherr.KindOf(err))

	_, err = env.svc.Register(ctx, "a@x.com", strings.Repeat("p", 73), "", "", client)
	assert.Equal(t, autherr.KindInvalidArgument, autherr.KindOf(err))
}

func TestCreatePasswordUser_NoSession(t *testing.T) {
	env := newTestEnv(t)
	env.expectTx()

	u, err := env.svc.CreatePasswordUser(context.Background(), "Ops@X.com", "Passw0rd!", "Op", "Erator")
	require.NoError(t, err)

	assert.Equal(t, "ops@x.com", u.Email)
	assert.Equal(t, "Op", u.FirstName)
	assert.Zero(t, env.db.sessionCount())
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	res, err := env.svc.Login(context.Background(), "ALICE@x.com", "Passw0rd!", client)
	require.NoError(t, err)

	assert.Equal(t, reg.User.ID, res.User.ID)
	require.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, env.clock.Now(), *res.User.LastLoginAt)
	assert.Equal(t, client.IP, res.User.LastLoginIP)
	assert.True(t, env.db.hasSession(res.RefreshToken))
	assert.Equal(t, 2, env.db.sessionCount())
}

func TestLogin_GenericFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@x.com", "Passw0rd!")
	ctx := context.Background()

	_, errUnknown := env.svc.Login(ctx, "nobody@x.com", "Passw0rd!", client)
	_, errWrong := env.svc.Login(ctx, "alice@x.com", "wrong", client)

	for _, err := range []error{errUnknown, errWrong} {
		assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
		assert.Equal(t, autherr.MsgInvalidCredentials, err.(*autherr.Error).Message)
	}
}

func TestLogin_FederatedOnlyUserHasNoPassword(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.identities["tok"] = identity.Assertion{Subject: "g1", Email: "fed@x.com", EmailVerified: true}
	env.expectTx()
	_, err := env.svc.FederatedLogin(context.Background(), identity.ProviderGoogle, "tok", client)
	require.NoError(t, err)

	_, err = env.svc.Login(context.Background(), "fed@x.com", "anything", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
}

func TestLogin_BlockedBeforeLockout(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.setStatus(reg.User.ID, models.StatusBanned)

	_, err := env.svc.Login(context.Background(), "alice@x.com", "Passw0rd!", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.Zero(t, env.db.count("credentials.RegisterFailure"))
	assert.Zero(t, env.db.count("credentials.Reset"))
}

// countingHasher records the hashes every Verify call compares against.
type countingHasher struct {
	passwordHasher
	mu       sync.Mutex
	verified []string
}

func (h *countingHasher) Verify(hash, password string) bool {
	h.mu.Lock()
	h.verified = append(h.verified, hash)
	h.mu.Unlock()
	return h.passwordHasher.Verify(hash, password)
}

func TestLogin_BlockedSpendsDummyCompare(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.setStatus(reg.User.ID, models.StatusSuspended)

	h := &countingHasher{passwordHasher: env.svc.hasher}
	env.svc.hasher = h

	_, err := env.svc.Login(context.Background(), "alice@x.com", "Passw0rd!", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.Equal(t, []string{env.svc.dummyHash}, h.verified)

	h.verified = nil
	_, err = env.svc.Login(context.Background(), "nobody@x.com", "Passw0rd!", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.Equal(t, []string{env.svc.dummyHash}, h.verified)
}

func TestLogin_LockoutScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	_, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		_, err := env.svc.Login(ctx, "alice@x.com", "wrong", client)
		require.Equal(t, autherr.KindAuthentication, autherr.KindOf(err), "attempt %d", i)
	}
	_, err = env.svc.Login(ctx, "alice@x.com", "wrong", client)
	require.Equal(t, autherr.KindLocked, autherr.KindOf(err))
	assert.Equal(t, 30, err.(*autherr.Error).RetryAfterMinutes)

	// correct password while locked
	_, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.Equal(t, autherr.KindLocked, autherr.KindOf(err))
	assert.ErrorIs(t, err, autherr.ErrAuthentication)
	assert.Contains(t, err.Error(), "30 minute")

	env.clock.Advance(10 * time.Minute)
	_, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.Equal(t, autherr.KindLocked, autherr.KindOf(err))
	assert.Equal(t, 20, err.(*autherr.Error).RetryAfterMinutes)

	env.clock.Advance(20 * time.Minute)
	_, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.NoError(t, err)

	cred := env.db.credential(reg.User.ID)
	assert.Zero(t, cred.FailedAttempts)
	assert.Nil(t, cred.LockedUntil)
}

func TestLogin_SuccessResetsPriorFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	for i := 0; i < 3; i++ {
		_, _ = env.svc.Login(ctx, "alice@x.com", "wrong", client)
	}
	require.Equal(t, 3, env.db.credential(reg.User.ID).FailedAttempts)

	_, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.NoError(t, err)
	assert.Zero(t, env.db.credential(reg.User.ID).FailedAttempts)
}

func TestLogin_LockFromRacingFailureWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	until := env.clock.Now().Add(30 * time.Minute)

	// A concurrent bad password locks the credential after this login
	// has verified the password but before it clears the counter.
	env.db.before["credentials.Reset"] = func(m *memDB) {
		c := m.creds[reg.User.ID]
		c.FailedAttempts = 5
		c.LockedUntil = &until
	}

	_, err := env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	require.Equal(t, autherr.KindLocked, autherr.KindOf(err))
	assert.Equal(t, 30, err.(*autherr.Error).RetryAfterMinutes)

	cred := env.db.credential(reg.User.ID)
	assert.Equal(t, 5, cred.FailedAttempts)
	require.NotNil(t, cred.LockedUntil)
	assert.True(t, cred.LockedUntil.Equal(until))
	assert.Zero(t, env.db.count("users.UpdateLastLogin"))
	assert.Zero(t, env.db.count("sessions.Create"))
}

func TestLogin_InfrastructureFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@x.com", "Passw0rd!")
	ctx := context.Background()

	env.db.fail("credentials.RegisterFailure", errors.New("conn reset"))
	_, err := env.svc.Login(ctx, "alice@x.com", "wrong", client)
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
	assert.NotErrorIs(t, err, autherr.ErrAuthentication)

	env.db.fail("users.FindByEmailWithCredential", errors.New("conn reset"))
	_, err = env.svc.Login(ctx, "alice@x.com", "Passw0rd!", client)
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
}

func TestFederatedLogin_LinksExistingPasswordAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.register(t, "bob@x.com", "Passw0rd!")
	env.verifier.identities["google-token"] = identity.Assertion{
		Subject: "google-sub-1", Email: "Bob@x.com", EmailVerified: true, GivenName: "Bob",
	}

	res, err := env.svc.FederatedLogin(ctx, identity.ProviderGoogle, "google-token", client)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.Len(t, env.db.users, 1)
	assert.Equal(t, 1, env.db.count("oauth.Create"))
	assert.Equal(t, reg.User.ID, env.db.accounts["google|google-sub-1"].UserID)

	res, err = env.svc.FederatedLogin(ctx, identity.ProviderGoogle, "google-token", client)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.Equal(t, 1, env.db.count("oauth.Create"))
	assert.True(t, env.db.hasSession(res.RefreshToken))
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestFederatedLogin_CreatesUser(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.identities["t"] = identity.Assertion{
		Subject: "g-9", Email: "carol@x.com", EmailVerified: true, GivenName: "Carol", FamilyName: "C",
	}
	env.expectTx()

	res, err := env.svc.FederatedLogin(context.Background(), identity.ProviderGoogle, "t", client)
	require.NoError(t, err)
	assert.Equal(t, "carol@x.com", res.User.Email)
	assert.Equal(t, models.StatusActive, res.User.Status)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, client.IP, res.User.LastLoginIP)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestFederatedLogin_UnverifiedEmailRejected(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "bob@x.com", "Passw0rd!")
	env.verifier.identities["unverified-existing"] = identity.Assertion{Subject: "s1", Email: "bob@x.com"}
	env.verifier.identities["unverified-new"] = identity.Assertion{Subject: "s2", Email: "new@x.com"}

	for _, raw := range []string{"unverified-existing", "unverified-new"} {
		_, err := env.svc.FederatedLogin(context.Background(), identity.ProviderGoogle, raw, client)
		assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err), raw)
	}
	assert.Zero(t, env.db.count("oauth.Create"))
	assert.Len(t, env.db.users, 1)
}

func TestFederatedLogin_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.FederatedLogin(ctx, "github", "x", client)
	assert.Equal(t, autherr.KindInvalidArgument, autherr.KindOf(err))

	_, err = env.svc.FederatedLogin(ctx, identity.ProviderGoogle, "forged", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))

	env.verifier.err = errors.New("jwks fetch: connection refused")
	_, err = env.svc.FederatedLogin(ctx, identity.ProviderGoogle, "anything", client)
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
}

func TestFederatedLogin_BlockedUser(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "bob@x.com", "Passw0rd!")
	env.db.setStatus(reg.User.ID, models.StatusSuspended)
	env.verifier.identities["t"] = identity.Assertion{Subject: "s", Email: "bob@x.com", EmailVerified: true}

	_, err := env.svc.FederatedLogin(context.Background(), identity.ProviderGoogle, "t", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.Zero(t, env.db.count("oauth.Create"))
}

func TestFederatedLogin_HiddenEmailCollisionIsAuthentication(t *testing.T) {
	env := newTestEnv(t)
	env.verifier.identities["t"] = identity.Assertion{Subject: "g9", Email: "ghost@x.com", EmailVerified: true}
	// Every insert collides with a row no lookup can see.
	env.db.fail("users.Create", common.ErrorAlreadyExists)
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()
	env.mock.ExpectBegin()
	env.mock.ExpectRollback()

	_, err := env.svc.FederatedLogin(context.Background(), identity.ProviderGoogle, "t", client)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.NotEqual(t, autherr.KindInternal, autherr.KindOf(err))
	assert.Equal(t, 2, env.db.count("users.Create"))
	assert.Zero(t, env.db.count("sessions.Create"))
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestRefresh_Success(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	env.clock.Advance(time.Hour)
	res, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	claims, err := env.svc.Issuer().Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.TypeAccess, claims.Type)
	assert.True(t, env.db.hasSession(reg.RefreshToken), "refresh token is not rotated")
}

func TestRefresh_PicksUpRoleChange(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.mu.Lock()
	env.db.users[reg.User.ID].Role = models.RoleAdmin
	env.db.mu.Unlock()

	res, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	require.NoError(t, err)

	claims, err := env.svc.Issuer().Verify(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestRefresh_ExpiredTokenDeletesSession(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	require.True(t, env.db.hasSession(reg.RefreshToken))

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.svc.Refresh(context.Background(), reg.RefreshToken)

	assert.Equal(t, autherr.KindTokenExpired, autherr.KindOf(err))
	assert.False(t, env.db.hasSession(reg.RefreshToken))
}

func TestRefresh_AccessTokenRejectedWithoutLookup(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	_, err := env.svc.Refresh(context.Background(), reg.AccessToken)

	assert.Equal(t, autherr.KindInvalidToken, autherr.KindOf(err))
	assert.Zero(t, env.db.count("sessions.Find"))
	assert.Zero(t, env.db.count("sessions.Delete"))
}

func TestRefresh_ExpiredAccessTokenRejectedWithoutLookup(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")

	env.clock.Advance(8 * 24 * time.Hour)
	_, err := env.svc.Refresh(context.Background(), reg.AccessToken)

	assert.Equal(t, autherr.KindInvalidToken, autherr.KindOf(err))
	assert.Zero(t, env.db.count("sessions.Find"))
	assert.Zero(t, env.db.count("sessions.Delete"))
	assert.True(t, env.db.hasSession(reg.RefreshToken))

	res, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
}

func TestRefresh_Garbage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Refresh(context.Background(), "garbage")
	assert.Equal(t, autherr.KindInvalidToken, autherr.KindOf(err))
}

func TestRefresh_RevokedSession(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	require.NoError(t, env.svc.Logout(context.Background(), reg.RefreshToken))

	_, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	assert.Equal(t, autherr.KindUnauthorized, autherr.KindOf(err))
}

func TestRefresh_StoredExpiryEnforced(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.mu.Lock()
	env.db.sessions[reg.RefreshToken].ExpiresAt = env.clock.Now().Add(-time.Second)
	env.db.mu.Unlock()

	_, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	assert.Equal(t, autherr.KindTokenExpired, autherr.KindOf(err))
	assert.False(t, env.db.hasSession(reg.RefreshToken))
}

func TestRefresh_BlockedUserLosesSession(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.setStatus(reg.User.ID, models.StatusBanned)

	_, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
	assert.False(t, env.db.hasSession(reg.RefreshToken))
}

func TestRefresh_DeletedUserLosesSession(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	env.db.deleteUser(reg.User.ID)

	_, err := env.svc.Refresh(context.Background(), reg.RefreshToken)
	assert.Equal(t, autherr.KindUnauthorized, autherr.KindOf(err))
	assert.False(t, env.db.hasSession(reg.RefreshToken))
}

func TestLogout_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	ctx := context.Background()

	require.NoError(t, env.svc.Logout(ctx, reg.RefreshToken))
	assert.False(t, env.db.hasSession(reg.RefreshToken))
	require.NoError(t, env.svc.Logout(ctx, reg.RefreshToken))
	require.NoError(t, env.svc.Logout(ctx, "never-issued"))
}

func TestLogout_PersistenceFailure(t *testing.T) {
	env := newTestEnv(t)
	env.db.fail("sessions.Delete", errors.New("db down"))

	err := env.svc.Logout(context.Background(), "tok")
	assert.Equal(t, autherr.KindInternal, autherr.KindOf(err))
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t, "alice@x.com", "Passw0rd!")
	ctx := context.Background()

	u, err := env.svc.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", u.Email)

	_, err = env.svc.Me(ctx, "missing")
	assert.Equal(t, autherr.KindUnauthorized, autherr.KindOf(err))

	env.db.setStatus(reg.User.ID, models.StatusSuspended)
	_, err = env.svc.Me(ctx, reg.User.ID)
	assert.Equal(t, autherr.KindAuthentication, autherr.KindOf(err))
}

func TestNewAuthService_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.BcryptCost = 100
	_, err := NewAuthService(nil, fakeManager{newMemDB()}, cfg, nil, logging.Nop{})
	assert.Error(t, err)
}
