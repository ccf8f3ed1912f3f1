package models

import "time"

// OAuthAccount links an external identity (provider, subject) to a user.
type OAuthAccount struct {
	ID              string
	UserID          string
	Provider        string
	ProviderSubject string
	AccessToken     string
	RefreshToken    string
	CreatedAt       time.Time
}
