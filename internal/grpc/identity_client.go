package grpc

import (
	"context"
	"errors"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-plugin/internal/models"
	"chat-plugin/internal/observability"
)

// Identity service methods. Requests and replies are protobuf well-known
// types so no generated stubs are needed.
const (
	identityService     = "identity.v1.IdentityService"
	methodValidateToken = "/" + identityService + "/ValidateToken"
	methodGetUser       = "/" + identityService + "/GetUser"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownUser  = errors.New("user not found")
)

// IdentityClient resolves bearer tokens and user profiles against the host
// identity service.
type IdentityClient struct {
	conn grpc.ClientConnInterface
}

// Dial connects to addr with tracing and client metrics attached.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// NewIdentityClient constructs the wrapper.
func NewIdentityClient(conn grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{conn: conn}
}

// ValidateToken verifies the token and returns the authenticated user id.
func (c *IdentityClient) ValidateToken(ctx context.Context, token string) (int, error) {
	var out wrapperspb.Int64Value
	if err := c.conn.Invoke(ctx, methodValidateToken, wrapperspb.String(token), &out); err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	if out.GetValue() <= 0 {
		return 0, ErrInvalidToken
	}
	return int(out.GetValue()), nil
}

// GetUser fetches the profile of userID.
func (c *IdentityClient) GetUser(ctx context.Context, userID int) (models.User, error) {
	var out structpb.Struct
	if err := c.conn.Invoke(ctx, methodGetUser, wrapperspb.Int64(int64(userID)), &out); err != nil {
		if status.Code(err) == codes.NotFound {
			return models.User{}, ErrUnknownUser
		}
		return models.User{}, err
	}
	return userFromStruct(&out)
}

func userFromStruct(s *structpb.Struct) (models.User, error) {
	f := s.GetFields()
	u := models.User{
		ID:          int(f["id"].GetNumberValue()),
		Username:    f["username"].GetStringValue(),
		Name:        f["name"].GetStringValue(),
		Admin:       f["admin"].GetBoolValue(),
		Moderator:   f["moderator"].GetBoolValue(),
		ChatEnabled: true,
		TrustLevel:  int(f["trust_level"].GetNumberValue()),
	}
	if v, ok := f["chat_enabled"]; ok {
		u.ChatEnabled = v.GetBoolValue()
	}
	if u.ID == 0 || u.Username == "" {
		return models.User{}, ErrUnknownUser
	}
	return u, nil
}
