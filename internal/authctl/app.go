// Package authctl implements the operator command line for the auth
// database: schema migration, session cleanup, manual lockout control and
// account creation.
package authctl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/timex"
)

// ErrUsage is returned for an unknown command or wrong arguments.
var ErrUsage = errors.New("usage error")

const usage = `usage: authctl [flags] <command> [args]

commands:
  migrate                      apply database migrations
  cleanup-sessions             delete expired sessions
  unlock <email>               clear the lockout of an account
  lock <email> <duration>      lock an account, e.g. "lock a@b.com 2h"
  register <email> [first] [last]
                               create a password account (password is prompted)
`

// Admin is the operator surface of services.AdminService.
type Admin interface {
	UnlockAccount(ctx context.Context, email string) error
	LockAccount(ctx context.Context, email string, d time.Duration) (time.Time, error)
	CleanupSessions(ctx context.Context) (int64, error)
}

// UserCreator creates password accounts.
type UserCreator interface {
	CreatePasswordUser(ctx context.Context, email, pass, firstName, lastName string) (*models.User, error)
}

type App struct {
	admin   Admin
	users   UserCreator
	migrate func(context.Context) error
	in      *bufio.Reader
	out     io.Writer
}

func NewApp(admin Admin, users UserCreator, migrate func(context.Context) error, in io.Reader, out io.Writer) *App {
	return &App{admin: admin, users: users, migrate: migrate, in: bufio.NewReader(in), out: out}
}

// Usage writes the command summary to w.
func Usage(w io.Writer) {
	fmt.Fprint(w, usage)
}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return a.runMigrate(ctx, rest)
	case "cleanup-sessions":
		return a.cleanupSessions(ctx, rest)
	case "unlock":
		return a.unlock(ctx, rest)
	case "lock":
		return a.lock(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "help":
		Usage(a.out)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) runMigrate(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	if err := a.migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *App) cleanupSessions(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	n, err := a.admin.CleanupSessions(ctx)
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	fmt.Fprintf(a.out, "%d expired session(s) removed\n", n)
	return nil
}

func (a *App) unlock(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	if err := a.admin.UnlockAccount(ctx, args[0]); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	fmt.Fprintf(a.out, "%s unlocked\n", args[0])
	return nil
}

func (a *App) lock(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	d, err := timex.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	until, err := a.admin.LockAccount(ctx, args[0], d)
	if err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	fmt.Fprintf(a.out, "%s locked until %s\n", args[0], until.UTC().Format(time.RFC3339))
	return nil
}

func (a *App) register(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return ErrUsage
	}
	email := args[0]

	var first, last string
	var err error
	if len(args) > 1 {
		first = args[1]
	} else if first, err = getSimpleText(a.in, "First name", a.out); err != nil {
		return err
	}
	if len(args) > 2 {
		last = args[2]
	} else if last, err = getSimpleText(a.in, "Last name", a.out); err != nil {
		return err
	}

	pw, err := getPassword(a.out)
	if err != nil {
		return err
	}

	u, err := a.users.CreatePasswordUser(ctx, email, pw, first, last)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	fmt.Fprintf(a.out, "created user %s (%s)\n", u.ID, u.Email)
	return nil
}
