// Package grpcapi exposes the gRPC surface of the identity service. Every call passes
// through the same Guard and policy table as the HTTP API.
package grpcapi

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"hrcore.org/internal/auth"
	"hrcore.org/internal/obs"
)

const authorizationHeader = "authorization"

// DefaultMethodEndpoints maps full gRPC method names to policy endpoints.
func DefaultMethodEndpoints() map[string]string {
	return map[string]string{
		healthpb.Health_Check_FullMethodName: "grpc.health",
		healthpb.Health_Watch_FullMethodName: "grpc.health",
	}
}

// Readiness reports whether the dependencies behind the service are usable.
type Readiness interface {
	Check(ctx context.Context) error
}

// Server bundles the grpc.Server with its health registry.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	ready  Readiness
}

type serverOptions struct {
	methods map[string]string
	ready   Readiness
	extra   []grpc.ServerOption
}

// Option customizes NewServer.
type Option func(*serverOptions)

// WithMethodEndpoints replaces the method to endpoint table.
func WithMethodEndpoints(m map[string]string) Option {
	return func(o *serverOptions) { o.methods = m }
}

// WithReadiness drives the health status from a readiness probe.
func WithReadiness(r Readiness) Option {
	return func(o *serverOptions) { o.ready = r }
}

// WithServerOptions appends raw grpc.ServerOption values.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(o *serverOptions) { o.extra = append(o.extra, opts...) }
}

// NewServer builds a gRPC server with the standard health service behind the guard.
func NewServer(guard *auth.Guard, opts ...Option) (*Server, error) {
	if guard == nil {
		return nil, errors.New("grpcapi: guard is required")
	}
	o := serverOptions{methods: DefaultMethodEndpoints()}
	for _, opt := range opts {
		opt(&o)
	}

	gi := &interceptor{guard: guard, methods: o.methods}
	serverOpts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(gi.unary),
		grpc.ChainStreamInterceptor(gi.stream),
	}, o.extra...)

	gs := grpc.NewServer(serverOpts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpc: gs, health: hs, ready: o.ready}, nil
}

// GRPC returns the underlying server for Serve and GracefulStop.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// SetServing flips the overall health status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
}

// WatchReadiness polls the readiness probe every interval and mirrors the result into
// the health status until ctx is cancelled.
func (s *Server) WatchReadiness(ctx context.Context, interval time.Duration) {
	if s.ready == nil {
		s.SetServing(true)
		return
	}
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := s.ready.Check(checkCtx)
		if err != nil {
			obs.Logger().Warn("grpc readiness check failed", zap.Error(err))
		}
		s.SetServing(err == nil)
	}
	check()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// Shutdown marks the service as not serving and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

type interceptor struct {
	guard   *auth.Guard
	methods map[string]string
}

func (i *interceptor) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := i.authorize(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (i *interceptor) stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := i.authorize(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
}

// authorize resolves the endpoint for method; unmapped methods are denied.
func (i *interceptor) authorize(ctx context.Context, method string) (context.Context, error) {
	endpoint := i.methods[method]
	token, err := auth.ParseBearer(authorizationFromMetadata(ctx))
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		return ctx, statusFromError(err)
	}
	id, stage, err := i.guard.Enforce(ctx, endpoint, token, nil)
	if err != nil {
		if errors.Is(err, auth.ErrDenied) {
			obs.Logger().Info("grpc call denied",
				zap.String("method", method),
				zap.String("endpoint", endpoint),
				zap.String("stage", stage.String()),
			)
		}
		return ctx, statusFromError(err)
	}
	return auth.ContextWithToken(auth.ContextWithIdentity(ctx, id), token), nil
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func authorizationFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authorizationHeader)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "missing bearer token")
	case errors.Is(err, auth.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid token")
	case errors.Is(err, auth.ErrDenied):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, "invalid input")
	default:
		obs.Logger().Error("grpc authorization failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}
