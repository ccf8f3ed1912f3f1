// Package identity links externally verified identities to local users.
package identity

import (
	"context"
	"errors"
)

var (
	ErrEmailNotVerified    = errors.New("provider email not verified")
	ErrIncompleteAssertion = errors.New("assertion lacks subject or email")
	ErrAccountBlocked      = errors.New("account is suspended or banned")
	ErrAccountUnavailable  = errors.New("linked account no longer exists")
	ErrUnknownProvider     = errors.New("unknown identity provider")
	ErrAssertionRejected   = errors.New("identity assertion rejected")
)

// Assertion is the verified identity a provider vouches for.
type Assertion struct {
	Subject       string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}

// Verifier checks a raw provider assertion (e.g. an OIDC ID token) and
// returns the identity it carries. Rejected assertions wrap
// ErrAssertionRejected; transport failures do not.
type Verifier interface {
	Provider() string
	Verify(ctx context.Context, raw string) (Assertion, error)
}

// Verifiers indexes verifiers by provider name.
type Verifiers map[string]Verifier

func NewVerifiers(vs ...Verifier) Verifiers {
	m := make(Verifiers, len(vs))
	for _, v := range vs {
		m[v.Provider()] = v
	}
	return m
}

func (m Verifiers) Get(provider string) (Verifier, error) {
	v, ok := m[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return v, nil
}
