// Package lockout enforces the brute-force lockout policy on password
// credentials.
//
// A credential is LOCKED while its locked_until lies in the future and OPEN
// otherwise. Failures are recorded with a single atomic statement that both
// increments the counter and applies the lock once the threshold is reached,
// so concurrent failures can never skip the transition.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/credentials"
)

const (
	DefaultThreshold = 5
	DefaultDuration  = 30 * time.Minute
)

var ErrInvalidPolicy = errors.New("invalid lockout policy")

// State is the result of a lockout evaluation.
type State struct {
	Locked bool
	// RetryAfterMinutes is the whole minutes left in the lock window,
	// rounded up and never below one. Zero when not locked.
	RetryAfterMinutes int
}

// Guard evaluates and updates lockout state.
type Guard struct {
	repo      credentials.Repository
	threshold int
	duration  time.Duration
}

func NewGuard(repo credentials.Repository, threshold int, duration time.Duration) (*Guard, error) {
	if threshold < 1 || duration <= 0 {
		return nil, fmt.Errorf("%w: threshold=%d duration=%s", ErrInvalidPolicy, threshold, duration)
	}
	return &Guard{repo: repo, threshold: threshold, duration: duration}, nil
}

// Check reports whether cred is locked at now.
func (g *Guard) Check(cred *models.Credential, now time.Time) State {
	if cred == nil {
		return State{}
	}
	return stateAt(cred.LockedUntil, now)
}

// RecordFailure registers one failed password attempt and returns the
// resulting state. The returned state is Locked when this failure reached
// the threshold or an earlier lock is still active.
func (g *Guard) RecordFailure(ctx context.Context, userID string, now time.Time) (State, error) {
	rec, err := g.repo.RegisterFailure(ctx, userID, g.threshold, now.Add(g.duration))
	if err != nil {
		return State{}, fmt.Errorf("register failure: %w", err)
	}
	return stateAt(rec.LockedUntil, now), nil
}

// RecordSuccess clears the counter after a verified password. If a racing
// failure locked the credential in the meantime the lock is kept and the
// returned state is Locked.
func (g *Guard) RecordSuccess(ctx context.Context, userID string, now time.Time) (State, error) {
	rec, err := g.repo.Reset(ctx, userID, now)
	if err != nil {
		return State{}, fmt.Errorf("reset failures: %w", err)
	}
	return stateAt(rec.LockedUntil, now), nil
}

// Unlock clears the counter and any active lock.
func (g *Guard) Unlock(ctx context.Context, userID string) error {
	if err := g.repo.Unlock(ctx, userID); err != nil {
		return fmt.Errorf("unlock credential: %w", err)
	}
	return nil
}

// Lock places an explicit lock on the credential until the given time.
func (g *Guard) Lock(ctx context.Context, userID string, until time.Time) error {
	if err := g.repo.Lock(ctx, userID, until); err != nil {
		return fmt.Errorf("lock credential: %w", err)
	}
	return nil
}

func stateAt(lockedUntil *time.Time, now time.Time) State {
	if lockedUntil == nil || !lockedUntil.After(now) {
		return State{}
	}
	return State{Locked: true, RetryAfterMinutes: minutesLeft(lockedUntil.Sub(now))}
}

func minutesLeft(d time.Duration) int {
	m := int(math.Ceil(d.Minutes()))
	if m < 1 {
		return 1
	}
	return m
}
