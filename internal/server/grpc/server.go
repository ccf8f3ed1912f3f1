// Package grpc exposes the auth flows over gRPC.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/logging"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/services"
	"github.com/dmitrijs2005/tradeauth/internal/server/token"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Authenticator is the slice of services.AuthService the transport needs.
type Authenticator interface {
	Register(ctx context.Context, email, password, firstName, lastName string, client services.ClientInfo) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string, client services.ClientInfo) (*services.AuthResult, error)
	FederatedLogin(ctx context.Context, provider, assertion string, client services.ClientInfo) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context, userID string) (*models.User, error)
}

// TokenVerifier validates access tokens presented to protected methods.
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Throttle limits login attempts per client IP. A nil Throttle disables
// throttling.
type Throttle interface {
	Allow(ctx context.Context, ip string) (retryAfter time.Duration, err error)
}

type GRPCServer struct {
	address  string
	auth     Authenticator
	tokens   TokenVerifier
	throttle Throttle
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, auth Authenticator, tokens TokenVerifier, throttle Throttle) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		auth:     auth,
		tokens:   tokens,
		throttle: throttle,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(s.throttleInterceptor, s.accessTokenInterceptor),
	)

	srv.RegisterService(&AuthServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(lis); err != nil {
		return err
	}

	return nil
}
