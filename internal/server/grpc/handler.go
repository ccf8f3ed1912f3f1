package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tradeauth/internal/server/autherr"
	"github.com/dmitrijs2005/tradeauth/internal/server/models"
	"github.com/dmitrijs2005/tradeauth/internal/server/services"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response field names.
const (
	FieldEmail        = "email"
	FieldPassword     = "password"
	FieldFirstName    = "first_name"
	FieldLastName     = "last_name"
	FieldProvider     = "provider"
	FieldAssertion    = "assertion"
	FieldRefreshToken = "refresh_token"
	FieldAccessToken  = "access_token"
	FieldUser         = "user"
)

// Register expects email, password, first_name and last_name.
func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Register(ctx,
		stringField(req, FieldEmail),
		stringField(req, FieldPassword),
		stringField(req, FieldFirstName),
		stringField(req, FieldLastName),
		clientInfo(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.authResponse(ctx, res)
}

// Login expects email and password.
func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Login(ctx, stringField(req, FieldEmail), stringField(req, FieldPassword), clientInfo(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.authResponse(ctx, res)
}

// FederatedLogin expects provider and assertion (the provider's ID token).
func (s *GRPCServer) FederatedLogin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.FederatedLogin(ctx, stringField(req, FieldProvider), stringField(req, FieldAssertion), clientInfo(ctx))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.authResponse(ctx, res)
}

// Refresh expects refresh_token and returns a new access_token with the user.
func (s *GRPCServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.auth.Refresh(ctx, stringField(req, FieldRefreshToken))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	user, err := userStruct(&res.User)
	if err != nil {
		return nil, s.toStatus(ctx, autherr.Internal("encode user", err))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldAccessToken: structpb.NewStringValue(res.AccessToken),
		FieldUser:        structpb.NewStructValue(user),
	}}, nil
}

// Logout expects refresh_token. It succeeds for unknown tokens.
func (s *GRPCServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.auth.Logout(ctx, stringField(req, FieldRefreshToken)); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// Me returns the caller's profile. It requires an access token.
func (s *GRPCServer) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, s.toStatus(ctx, autherr.ErrInvalidToken)
	}

	u, err := s.auth.Me(ctx, claims.Subject)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	user, err := userStruct(u)
	if err != nil {
		return nil, s.toStatus(ctx, autherr.Internal("encode user", err))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldUser: structpb.NewStructValue(user),
	}}, nil
}

func (s *GRPCServer) authResponse(ctx context.Context, res *services.AuthResult) (*structpb.Struct, error) {
	user, err := userStruct(&res.User)
	if err != nil {
		return nil, s.toStatus(ctx, autherr.Internal("encode user", err))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldUser:         structpb.NewStructValue(user),
		FieldAccessToken:  structpb.NewStringValue(res.AccessToken),
		FieldRefreshToken: structpb.NewStringValue(res.RefreshToken),
	}}, nil
}

func userStruct(u *models.User) (*structpb.Struct, error) {
	fields := map[string]any{
		"id":             u.ID,
		"email":          u.Email,
		"first_name":     u.FirstName,
		"last_name":      u.LastName,
		"role":           string(u.Role),
		"status":         string(u.Status),
		"email_verified": u.EmailVerified,
		"created_at":     u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if u.LastLoginAt != nil {
		fields["last_login_at"] = u.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(fields)
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[name].GetStringValue()
}

func clientInfo(ctx context.Context) services.ClientInfo {
	return services.ClientInfo{IP: clientIP(ctx), UserAgent: userAgent(ctx)}
}
