package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/tradeauth/internal/authctl"
	"github.com/dmitrijs2005/tradeauth/internal/flagx"
	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
	"github.com/dmitrijs2005/tradeauth/internal/server/identity"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tradeauth/internal/server/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, authctl.ErrUsage) {
			authctl.Usage(os.Stderr)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flagx.Positional(os.Args[1:], config.FlagNames())
	if len(args) == 0 {
		return authctl.ErrUsage
	}

	cfg := config.LoadConfig()
	if err := cfg.LoadSecret(ctx); err != nil {
		return err
	}

	logger := logging.NewJSONLogger(os.Stderr, cfg.LogLevel)

	db, err := repomanager.OpenPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	rm := repomanager.NewPostgresRepositoryManager()

	admin, err := services.NewAdminService(db, rm, cfg, logger)
	if err != nil {
		return err
	}
	auth, err := services.NewAuthService(db, rm, cfg, identity.NewVerifiers(), logger)
	if err != nil {
		return err
	}

	migrate := func(ctx context.Context) error { return rm.RunMigrations(ctx, db) }

	app := authctl.NewApp(admin, auth, migrate, os.Stdin, os.Stdout)
	return app.Run(ctx, args)
}
