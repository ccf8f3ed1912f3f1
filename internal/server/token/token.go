// Package token mints and validates the signed access and refresh tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = 7 * 24 * time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultIssuer     = "tradeauth"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySecret  = errors.New("signing secret is empty")
)

// Type distinguishes access tokens from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

func (t Type) valid() bool {
	return t == TypeAccess || t == TypeRefresh
}

// Claims is the token payload. Subject holds the user id and ID the jti.
type Claims struct {
	jwt.RegisteredClaims
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
	Type  Type        `json:"typ"`
}

// Token is a signed token together with its expiry.
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// Pair is the result of a login: one access and one refresh token.
type Pair struct {
	Access  Token
	Refresh Token
}

// Issuer signs tokens with HS256 using a single immutable secret.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Issuer)

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

func WithIssuer(name string) Option {
	return func(i *Issuer) { i.issuer = name }
}

func NewIssuer(secret []byte, accessTTL, refreshTTL time.Duration, opts ...Option) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive: access=%s refresh=%s", accessTTL, refreshTTL)
	}
	i := &Issuer{
		secret:     secret,
		issuer:     DefaultIssuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

func (i *Issuer) ttl(t Type) time.Duration {
	if t == TypeRefresh {
		return i.refreshTTL
	}
	return i.accessTTL
}

// Issue signs a token of type t for user.
func (i *Issuer) Issue(user *models.User, t Type) (Token, error) {
	if !t.valid() {
		return Token{}, fmt.Errorf("unknown token type %q", t)
	}
	now := i.now()
	exp := now.Add(i.ttl(t))
	jti := uuid.NewString()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: user.Email,
		Role:  user.Role,
		Type:  t,
	})

	s, err := tok.SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}

	// Numeric dates drop sub-second precision; report what the token carries.
	return Token{Value: s, ID: jti, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// IssuePair signs an access and a refresh token for user.
func (i *Issuer) IssuePair(user *models.User) (Pair, error) {
	access, err := i.Issue(user, TypeAccess)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.Issue(user, TypeRefresh)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Verify checks signature, algorithm, issuer and expiry. An expired but
// otherwise valid token yields ErrTokenExpired together with its claims, so
// callers can still inspect the token type. Every other failure yields
// ErrInvalidToken and nil claims.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	expired := false
	if err != nil {
		// The signature is checked before claims, so an expiry-only failure
		// means the claims are authentic.
		if !errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenInvalidIssuer) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		expired = true
	}

	if claims.Subject == "" || !claims.Type.valid() {
		return nil, fmt.Errorf("%w: missing subject or type", ErrInvalidToken)
	}

	if expired {
		return claims, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	return claims, nil
}
