// Package services contains server-side business logic. This file implements
// AuthService, which registers users, authenticates them with a password or
// a federated identity, and issues, refreshes and revokes tokens backed by
// server-stored sessions.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/autherr"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
	"github.com/dmitrijs2005/tradeauth/internal/server/identity"
	"github.com/dmitrijs2005/tradeauth/internal/server/lockout"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/password"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tradeauth/internal/server/sessions"
	"github.com/dmitrijs2005/tradeauth/internal/server/token"
)

// dummyPassword is hashed once at startup; unknown emails are compared
// against it so their response time matches a real mismatch.
const dummyPassword = "tradeauth-timing-parity"

// ClientInfo describes the caller of a login-type operation.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// AuthResult is returned by every operation that starts a session.
type AuthResult struct {
	User         models.User
	AccessToken  string
	RefreshToken string
}

// RefreshResult carries a new access token for an existing session.
type RefreshResult struct {
	AccessToken string
	User        models.User
}

// AuthService orchestrates credential checks, lockout, identity linking,
// token issuance and session bookkeeping. All failures are *autherr.Error.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       *Store
	hasher      passwordHasher
	guard       *lockout.Guard
	issuer      *token.Issuer
	sessions    *sessions.Registry
	linker      *identity.Linker
	verifiers   identity.Verifiers
	log         logging.Logger
	now         func() time.Time
	dummyHash   string
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type Option func(*AuthService)

// WithClock replaces time.Now for lockout and token timing.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService wires the auth components from server config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, verifiers identity.Verifiers, log logging.Logger, opts ...Option) (*AuthService, error) {
	s := &AuthService{
		db:          db,
		repomanager: m,
		store:       NewStore(db, m),
		verifiers:   verifiers,
		log:         log.With("module", "auth"),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.hasher, err = password.NewHasher(cfg.BcryptCost); err != nil {
		return nil, err
	}
	if s.guard, err = lockout.NewGuard(m.Credentials(db), cfg.LockoutThreshold, cfg.LockoutDuration); err != nil {
		return nil, err
	}
	s.issuer, err = token.NewIssuer([]byte(cfg.SecretKey),
		cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration,
		token.WithIssuer(cfg.TokenIssuer), token.WithClock(s.now))
	if err != nil {
		return nil, err
	}
	if s.dummyHash, err = s.hasher.Hash(dummyPassword); err != nil {
		return nil, err
	}

	s.sessions = sessions.NewRegistry(m.Sessions(db), log)
	s.linker = identity.NewLinker(m.Users(db), m.OAuthAccounts(db), s.store, log)
	return s, nil
}

// Issuer exposes the token issuer for access-token verification at the edge.
func (s *AuthService) Issuer() *token.Issuer { return s.issuer }

// Sessions exposes the session registry for the background janitor.
func (s *AuthService) Sessions() *sessions.Registry { return s.sessions }

// Register creates a password account in PENDING_VERIFICATION status and
// starts its first session.
func (s *AuthService) Register(ctx context.Context, email, pass, firstName, lastName string, client ClientInfo) (*AuthResult, error) {
	user, err := s.CreatePasswordUser(ctx, email, pass, firstName, lastName)
	if err != nil {
		return nil, err
	}
	return s.startSession(ctx, user, client)
}

// CreatePasswordUser creates a password account without starting a session.
func (s *AuthService) CreatePasswordUser(ctx context.Context, email, pass, firstName, lastName string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, autherr.InvalidArgument("a valid email is required")
	}
	if pass == "" {
		return nil, autherr.InvalidArgument("password is required")
	}

	_, err := s.repomanager.Users(s.db).FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, autherr.Conflict()
	case !errors.Is(err, common.ErrorNotFound):
		return nil, autherr.Internal("find user", err)
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooLong) {
			return nil, autherr.InvalidArgument(fmt.Sprintf("password must be at most %d bytes", password.MaxLength))
		}
		return nil, autherr.Internal("hash password", err)
	}

	user, err := s.store.CreateUserWithPassword(ctx, &models.User{
		Email:     email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Role:      models.RoleTrader,
		Status:    models.StatusPendingVerification,
	}, &models.Credential{PasswordHash: hash, PasswordChangedAt: s.now()})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, autherr.Conflict()
		}
		return nil, autherr.Internal("create user", err)
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// Login authenticates with email and password.
func (s *AuthService) Login(ctx context.Context, email, pass string, client ClientInfo) (*AuthResult, error) {
	email = models.NormalizeEmail(email)

	uc, err := s.repomanager.Users(s.db).FindByEmailWithCredential(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Verify(s.dummyHash, pass)
			s.log.Info(ctx, "login failed", "reason", "unknown email", "ip", client.IP)
			return nil, autherr.Authentication(nil)
		}
		return nil, autherr.Internal("find user", err)
	}

	user, cred := &uc.User, uc.Credential
	if cred == nil {
		s.hasher.Verify(s.dummyHash, pass)
		s.log.Info(ctx, "login failed", "reason", "no password credential", "user_id", user.ID)
		return nil, autherr.Authentication(nil)
	}
	if user.Status.Blocked() {
		s.hasher.Verify(s.dummyHash, pass)
		s.log.Info(ctx, "login failed", "reason", "account blocked", "user_id", user.ID, "status", string(user.Status))
		return nil, autherr.Authentication(nil)
	}

	now := s.now()
	if st := s.guard.Check(cred, now); st.Locked {
		s.log.Info(ctx, "login rejected", "reason", "account locked", "user_id", user.ID)
		return nil, autherr.Locked(st.RetryAfterMinutes)
	}

	if !s.hasher.Verify(cred.PasswordHash, pass) {
		st, err := s.guard.RecordFailure(ctx, user.ID, now)
		if err != nil {
			return nil, autherr.Internal("record failure", err)
		}
		if st.Locked {
			s.log.Warn(ctx, "account locked", "user_id", user.ID, "ip", client.IP)
			return nil, autherr.Locked(st.RetryAfterMinutes)
		}
		s.log.Info(ctx, "login failed", "reason", "bad password", "user_id", user.ID)
		return nil, autherr.Authentication(nil)
	}

	st, err := s.guard.RecordSuccess(ctx, user.ID, now)
	if err != nil {
		return nil, autherr.Internal("reset failures", err)
	}
	if st.Locked {
		s.log.Info(ctx, "login rejected", "reason", "locked by concurrent failure", "user_id", user.ID)
		return nil, autherr.Locked(st.RetryAfterMinutes)
	}
	if err := s.touchLastLogin(ctx, user, client.IP, now); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "login succeeded", "user_id", user.ID)
	return s.startSession(ctx, user, client)
}

// FederatedLogin authenticates with a provider-signed assertion, linking or
// creating the local user as needed.
func (s *AuthService) FederatedLogin(ctx context.Context, provider, assertion string, client ClientInfo) (*AuthResult, error) {
	v, err := s.verifiers.Get(provider)
	if err != nil {
		return nil, autherr.InvalidArgument(fmt.Sprintf("unsupported identity provider %q", provider))
	}

	a, err := v.Verify(ctx, assertion)
	if err != nil {
		if errors.Is(err, identity.ErrAssertionRejected) {
			s.log.Info(ctx, "federated login failed", "provider", provider, "reason", "assertion rejected")
			return nil, autherr.Authentication(err)
		}
		return nil, autherr.Internal("verify assertion", err)
	}

	user, outcome, err := s.linker.Resolve(ctx, provider, a)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailNotVerified),
			errors.Is(err, identity.ErrIncompleteAssertion),
			errors.Is(err, identity.ErrAccountBlocked),
			errors.Is(err, identity.ErrAccountUnavailable),
			errors.Is(err, common.ErrorAlreadyExists):
			s.log.Info(ctx, "federated login failed", "provider", provider, "reason", err.Error())
			return nil, autherr.Authentication(err)
		}
		return nil, autherr.Internal("resolve identity", err)
	}

	if err := s.touchLastLogin(ctx, user, client.IP, s.now()); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "federated login succeeded", "provider", provider, "user_id", user.ID, "outcome", outcome.String())
	return s.startSession(ctx, user, client)
}

// Refresh exchanges a live refresh token for a new access token. The
// refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.issuer.Verify(refreshToken)
	if err != nil && !errors.Is(err, token.ErrTokenExpired) {
		return nil, autherr.InvalidToken(err)
	}
	if claims.Type != token.TypeRefresh {
		return nil, autherr.InvalidToken(fmt.Errorf("token type %q", claims.Type))
	}
	if err != nil {
		if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
			return nil, autherr.Internal("revoke expired session", err)
		}
		return nil, autherr.TokenExpired(err)
	}

	sess, err := s.sessions.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return nil, autherr.Unauthorized(err)
		}
		return nil, autherr.Internal("find session", err)
	}
	if sess.UserID != claims.Subject {
		return nil, autherr.Unauthorized(errors.New("session owner mismatch"))
	}

	if sess.Expired(s.now()) {
		if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
			return nil, autherr.Internal("revoke expired session", err)
		}
		return nil, autherr.TokenExpired(errors.New("session expired"))
	}

	user, err := s.repomanager.Users(s.db).FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
				return nil, autherr.Internal("revoke orphan session", err)
			}
			return nil, autherr.Unauthorized(errors.New("user no longer exists"))
		}
		return nil, autherr.Internal("find user", err)
	}
	if user.Status.Blocked() {
		if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
			return nil, autherr.Internal("revoke blocked session", err)
		}
		s.log.Info(ctx, "refresh rejected", "reason", "account blocked", "user_id", user.ID)
		return nil, autherr.Authentication(nil)
	}

	access, err := s.issuer.Issue(user, token.TypeAccess)
	if err != nil {
		return nil, autherr.Internal("issue access token", err)
	}
	return &RefreshResult{AccessToken: access.Value, User: *user}, nil
}

// Logout revokes the session of refreshToken. Unknown tokens succeed.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		return autherr.Internal("revoke session", err)
	}
	return nil
}

// Me returns the current state of the user an access token was issued to.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, autherr.Unauthorized(err)
		}
		return nil, autherr.Internal("find user", err)
	}
	if user.Status.Blocked() {
		return nil, autherr.Authentication(nil)
	}
	return user, nil
}

// --- helpers below ---

func (s *AuthService) touchLastLogin(ctx context.Context, user *models.User, ip string, at time.Time) error {
	if err := s.repomanager.Users(s.db).UpdateLastLogin(ctx, user.ID, ip, at); err != nil {
		return autherr.Internal("update last login", err)
	}
	user.LastLoginAt = &at
	user.LastLoginIP = ip
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, client ClientInfo) (*AuthResult, error) {
	pair, err := s.issuer.IssuePair(user)
	if err != nil {
		return nil, autherr.Internal("issue tokens", err)
	}
	if _, err := s.sessions.Create(ctx, user.ID, pair.Refresh.Value, client.IP, client.UserAgent, pair.Refresh.ExpiresAt); err != nil {
		return nil, autherr.Internal("create session", err)
	}
	return &AuthResult{User: *user, AccessToken: pair.Access.Value, RefreshToken: pair.Refresh.Value}, nil
}
