package grpc

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/services"
)

type fakeAuth struct {
	mu sync.Mutex

	result    *services.AuthResult
	refreshed *services.RefreshResult
	me        *models.User
	err       error

	lastEmail  string
	lastClient services.ClientInfo
	lastToken  string
	lastUserID string
}

func (f *fakeAuth) Register(_ context.Context, email, _, _, _ string, client services.ClientInfo) (*services.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastEmail, f.lastClient = email, client
	return f.result, f.err
}

func (f *fakeAuth) Login(_ context.Context, email, _ string, client services.ClientInfo) (*services.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastEmail, f.lastClient = email, client
	return f.result, f.err
}

func (f *fakeAuth) FederatedLogin(_ context.Context, _, assertion string, client services.ClientInfo) (*services.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken, f.lastClient = assertion, client
	return f.result, f.err
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (*services.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = refreshToken
	return f.refreshed, f.err
}

func (f *fakeAuth) Logout(_ context.Context, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = refreshToken
	return f.err
}

func (f *fakeAuth) Me(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUserID = userID
	return f.me, f.err
}

type fakeThrottle struct {
	retry time.Duration
	err   error
	calls int
}

func (f *fakeThrottle) Allow(context.Context, string) (time.Duration, error) {
	f.calls++
	return f.retry, f.err
}

func testUser() models.User {
	return models.User{
		ID:        "u-1",
		Email:     "trader@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Role:      models.RoleTrader,
		Status:    models.StatusActive,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}
