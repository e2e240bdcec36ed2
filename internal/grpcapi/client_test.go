package grpcapi

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"hrcore.org/internal/auth"
)

func TestClientForwardsToken(t *testing.T) {
	guard, iss := newGuard(t)
	srv, err := NewServer(guard)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.SetServing(true)
	client := NewClient(startBufGRPC(t, srv))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Serving(ctx); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without token, got %v", err)
	}

	tok, err := iss.Issue(auth.Identity{UserID: "u1", Role: auth.RoleHR})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	serving, err := client.Serving(auth.ContextWithToken(ctx, tok.Token))
	if err != nil {
		t.Fatalf("Serving: %v", err)
	}
	if !serving {
		t.Fatal("expected SERVING")
	}
}

func TestMapStatusError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "unauthenticated", err: status.Error(codes.Unauthenticated, "invalid token"), want: auth.ErrInvalidToken},
		{name: "denied", err: status.Error(codes.PermissionDenied, "forbidden"), want: auth.ErrDenied},
		{name: "not found", err: status.Error(codes.NotFound, "not found"), want: auth.ErrNotFound},
		{name: "invalid input", err: status.Error(codes.InvalidArgument, "bad"), want: auth.ErrInvalidInput},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapStatusError(tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapStatusError() = %v, want %v", got, tc.want)
			}
		})
	}

	internal := status.Error(codes.Internal, "internal")
	if got := mapStatusError(internal); status.Code(got) != codes.Internal {
		t.Fatalf("expected pass-through, got %v", got)
	}
}
