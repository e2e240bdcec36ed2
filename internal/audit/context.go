package audit

import (
	"context"
	"strings"
)

type ctxKey string

const (
	requestIDKey   ctxKey = "audit_request_id"
	requestInfoKey ctxKey = "audit_request_info"
)

// RequestInfo is the transport context copied onto audit entries.
type RequestInfo struct {
	IP     string
	Path   string
	Method string
}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithRequestInfo attaches client address and route to the context.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func requestInfoFromContext(ctx context.Context) RequestInfo {
	if ctx == nil {
		return RequestInfo{}
	}
	info, _ := ctx.Value(requestInfoKey).(RequestInfo)
	return info
}
