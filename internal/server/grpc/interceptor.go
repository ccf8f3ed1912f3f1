package grpc

import (
	"context"
	"errors"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/server/autherr"
	"github.com/dmitrijs2005/tradeauth/internal/server/ratelimit"
	"github.com/dmitrijs2005/tradeauth/internal/server/token"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type ctxKey string

const claimsKey ctxKey = "claims"

// retryAfterTrailer carries the seconds until a throttled client may retry.
const retryAfterTrailer = "retry-after"

var protectedMethods = map[string]struct{}{
	MethodMe: {},
}

var throttledMethods = map[string]struct{}{
	MethodLogin:          {},
	MethodFederatedLogin: {},
}

// ClaimsFromContext returns the access-token claims placed by the interceptor.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.Claims)
	return c, ok
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if _, ok := protectedMethods[info.FullMethod]; !ok {
		return handler(ctx, req)
	}

	accessToken := accessTokenFromMetadata(ctx)
	if accessToken == "" {
		return nil, s.toStatus(ctx, autherr.InvalidToken(errors.New("missing token")))
	}

	claims, err := s.tokens.Verify(accessToken)
	if err != nil && !errors.Is(err, token.ErrTokenExpired) {
		return nil, s.toStatus(ctx, autherr.InvalidToken(err))
	}
	if claims.Type != token.TypeAccess {
		return nil, s.toStatus(ctx, autherr.InvalidToken(errors.New("not an access token")))
	}
	if err != nil {
		return nil, s.toStatus(ctx, autherr.TokenExpired(err))
	}

	ctx = context.WithValue(ctx, claimsKey, claims)

	return handler(ctx, req)
}

func (s *GRPCServer) throttleInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if s.throttle == nil {
		return handler(ctx, req)
	}
	if _, ok := throttledMethods[info.FullMethod]; !ok {
		return handler(ctx, req)
	}

	ip := clientIP(ctx)
	retry, err := s.throttle.Allow(ctx, ip)
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		s.logger.Warn(ctx, "login throttled", "ip", ip)
		_ = grpc.SetTrailer(ctx, metadata.Pairs(retryAfterTrailer, strconv.FormatInt(int64(math.Ceil(retry.Seconds())), 10)))
		return nil, status.Error(codes.ResourceExhausted, "too many login attempts")
	case err != nil:
		// The throttle is an outer guard; lockout still protects accounts.
		s.logger.Error(ctx, "login throttle unavailable", "error", err)
	}

	return handler(ctx, req)
}

func accessTokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(common.AccessTokenHeaderName); len(values) > 0 {
		return values[0]
	}
	if values := md.Get("authorization"); len(values) > 0 {
		if t, ok := strings.CutPrefix(values[0], "Bearer "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}

// clientIP reports the remote address of the caller without its port.
func clientIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func userAgent(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get("user-agent"); len(values) > 0 {
		return values[0]
	}
	return ""
}
