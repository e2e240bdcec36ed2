package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hrcore.org/internal/auth"
)

// Client calls the identity service over gRPC, forwarding the caller's access token.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a new client with sensible defaults (insecure transport).
func Dial(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Serving reports whether the service answers SERVING. The bearer token is taken
// from ctx (see auth.ContextWithToken).
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(outgoingWithToken(ctx), &healthpb.HealthCheckRequest{})
	if err != nil {
		return false, mapStatusError(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

func outgoingWithToken(ctx context.Context) context.Context {
	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, "Bearer "+token)
}

// mapStatusError turns guard rejections back into the auth sentinels.
func mapStatusError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return fmt.Errorf("%w: %s", auth.ErrInvalidToken, st.Message())
	case codes.PermissionDenied:
		return fmt.Errorf("%w: %s", auth.ErrDenied, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", auth.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, st.Message())
	default:
		return err
	}
}
