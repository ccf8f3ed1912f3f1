// Package server initializes and runs the auth server: it loads secrets,
// opens and migrates the database, wires the auth flows and serves them over
// gRPC until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/config"
	"github.com/dmitrijs2005/tradeauth/internal/server/identity"
	"github.com/dmitrijs2005/tradeauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/tradeauth/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tradeauth/internal/server/services"
	"github.com/dmitrijs2005/tradeauth/internal/telemetry"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/tradeauth/internal/server/grpc"
)

const serviceName = "tradeauth"

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       *redis.Client
	authService *services.AuthService
	throttle    gs.Throttle
	shutdownTel func(context.Context) error
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.LoadSecret(ctx); err != nil {
		return nil, fmt.Errorf("secret load error: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	shutdownTel, err := telemetry.Setup(ctx, serviceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	verifiers, err := buildVerifiers(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	as, err := services.NewAuthService(db, rm, c, verifiers, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{config: c, logger: logger, db: db, authService: as, shutdownTel: shutdownTel}

	if c.RedisAddress != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddress})
		app.throttle = ratelimit.New(app.redis, c.LoginRateLimit, c.LoginRateWindow)
	}

	return app, nil
}

func buildVerifiers(ctx context.Context, c *config.Config) (identity.Verifiers, error) {
	var vs []identity.Verifier

	if c.GoogleClientID != "" {
		g, err := identity.NewGoogle(ctx, c.GoogleClientID, &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("google provider init error: %w", err)
		}
		vs = append(vs, g)
	}

	return identity.NewVerifiers(vs...), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.authService, app.authService.Issuer(), app.throttle)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run serves until ctx is cancelled or a termination signal is received,
// then releases the database, Redis and telemetry resources.
func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.authService.Sessions().RunJanitor(ctx, app.config.SessionCleanupInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.close()
}

func (app *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error(ctx, "redis close error", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	if err := app.shutdownTel(ctx); err != nil {
		app.logger.Error(ctx, "telemetry shutdown error", "error", err)
	}

	app.logger.Info(ctx, "App stopped")
}
