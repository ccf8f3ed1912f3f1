package grpc

import (
	"context"
	"errors"
	"strconv"

	"github.com/dmitrijs2005/tradeauth/internal/common"
	"github.com/dmitrijs2005/tradeauth/internal/server/autherr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// retryAfterMinutesTrailer is set together with a locked-account error.
const retryAfterMinutesTrailer = "x-retry-after-minutes"

var kindCodes = map[autherr.Kind]codes.Code{
	autherr.KindInternal:        codes.Internal,
	autherr.KindAuthentication:  codes.Unauthenticated,
	autherr.KindLocked:          codes.Unauthenticated,
	autherr.KindTokenExpired:    codes.Unauthenticated,
	autherr.KindInvalidToken:    codes.Unauthenticated,
	autherr.KindUnauthorized:    codes.Unauthenticated,
	autherr.KindConflict:        codes.AlreadyExists,
	autherr.KindInvalidArgument: codes.InvalidArgument,
}

// toStatus converts a flow error into a gRPC status. The error kind is sent
// in a trailer so clients can tell an expired token from a revoked session.
// Internal causes are logged here and never leave the process.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var e *autherr.Error
	if !errors.As(err, &e) {
		s.logger.Error(ctx, "unclassified error", "error", err)
		e = autherr.ErrInternal
	}

	code, ok := kindCodes[e.Kind]
	if !ok {
		code = codes.Internal
	}

	md := metadata.Pairs(common.AuthErrorTrailerName, e.Kind.String())
	if e.Kind == autherr.KindLocked {
		md.Set(retryAfterMinutesTrailer, strconv.Itoa(e.RetryAfterMinutes))
	}
	// Fails only outside a server call, e.g. when invoked directly in tests.
	_ = grpc.SetTrailer(ctx, md)

	if e.Kind == autherr.KindInternal {
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(code, "internal error")
	}

	return status.Error(code, e.Message)
}
