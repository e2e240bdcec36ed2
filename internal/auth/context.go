package auth

import (
	"context"
	"fmt"
	"strings"
)

// Values carried on a request context once the guard has admitted a caller. Handlers
// read the Identity; outbound clients (see grpcapi.Client) read the raw token to act
// on the caller's behalf.
type ctxKey uint8

const (
	identityKey ctxKey = iota
	bearerKey
)

const bearerScheme = "bearer"

// ParseBearer extracts the token from an Authorization value. A missing value or an
// empty token is ErrUnauthenticated; any other scheme is ErrInvalidToken. HTTP headers
// and gRPC metadata both go through here so the two transports reject alike.
func ParseBearer(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrUnauthenticated
	}
	scheme, token, _ := strings.Cut(value, " ")
	if !strings.EqualFold(scheme, bearerScheme) {
		return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// ContextWithIdentity records the caller admitted by the guard.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the admitted caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// ContextWithToken keeps the caller's access token so downstream calls can forward it.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, bearerKey, token)
}

// TokenFromContext returns the token stored by ContextWithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	tok, _ := ctx.Value(bearerKey).(string)
	return tok, tok != ""
}
