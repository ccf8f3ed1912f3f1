package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	ProviderGoogle = "google"
	googleIssuer   = "https://accounts.google.com"
)

type googleClaims struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Verified   bool   `json:"email_verified"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// Google verifies Google ID tokens issued for a single OAuth client.
type Google struct {
	verifier *oidc.IDTokenVerifier
	client   *http.Client
}

// NewGoogle discovers Google's signing keys and returns a verifier whose
// expected audience is clientID. A nil client uses http.DefaultClient.
func NewGoogle(ctx context.Context, clientID string, client *http.Client) (*Google, error) {
	if clientID == "" {
		return nil, errors.New("google client id is empty")
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	p, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("new oidc provider: %w", err)
	}
	return &Google{
		verifier: p.Verifier(&oidc.Config{ClientID: clientID}),
		client:   client,
	}, nil
}

// NewGoogleWithVerifier wraps an already configured token verifier.
func NewGoogleWithVerifier(v *oidc.IDTokenVerifier) *Google {
	return &Google{verifier: v}
}

func (g *Google) Provider() string { return ProviderGoogle }

func (g *Google) Verify(ctx context.Context, raw string) (Assertion, error) {
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}
	idTok, err := g.verifier.Verify(ctx, raw)
	if err != nil {
		return Assertion{}, fmt.Errorf("%w: verify id token: %v", ErrAssertionRejected, err)
	}

	var c googleClaims
	if err := idTok.Claims(&c); err != nil {
		return Assertion{}, fmt.Errorf("%w: read claims: %v", ErrAssertionRejected, err)
	}

	return Assertion{
		Subject:       c.Sub,
		Email:         c.Email,
		EmailVerified: c.Verified,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
	}, nil
}
