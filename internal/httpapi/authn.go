package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"hrcore.org/internal/audit"
	"hrcore.org/internal/auth"
	"hrcore.org/internal/obs"
)

const authHeader = "Authorization"

// OwnerFunc resolves the employee id owning the resource addressed by r.
type OwnerFunc func(r *http.Request) (string, error)

// Outcome is what a guarded handler reports back to the decorator.
type Outcome struct {
	// Status defaults to 200, or 204 when Body is nil.
	Status     int
	ResourceID string
	Before     any
	After      any
	Body       any
}

// Operation declares one guarded route. Endpoint names the policy entry; Action and
// Resource describe the audit entry written after Handle succeeds.
type Operation struct {
	Endpoint string
	Method   string
	Pattern  string
	Action   audit.Action
	Resource string
	Owner    OwnerFunc
	Handle   func(r *http.Request, caller auth.Identity) (Outcome, error)
}

// Mount registers guarded operations. Every operation is authenticated, authorized
// against the policy table and audited on success; handlers cannot opt out.
func (a *API) Mount(ops ...Operation) error {
	for _, op := range ops {
		switch {
		case op.Endpoint == "" || op.Method == "" || op.Pattern == "":
			return fmt.Errorf("httpapi: operation %q needs endpoint, method and pattern", op.Endpoint)
		case op.Handle == nil:
			return fmt.Errorf("httpapi: operation %s has no handler", op.Endpoint)
		case !op.Action.Valid():
			return fmt.Errorf("httpapi: operation %s has invalid audit action %q", op.Endpoint, op.Action)
		case strings.TrimSpace(op.Resource) == "":
			return fmt.Errorf("httpapi: operation %s has no resource type", op.Endpoint)
		}
		if _, ok := a.guard.Policy().Rule(op.Endpoint); !ok {
			obs.Logger().Warn("operation has no policy entry and will always be denied", zap.String("endpoint", op.Endpoint))
		}
		a.router.Method(op.Method, op.Pattern, a.guarded(op))
	}
	return nil
}

func (a *API) guarded(op Operation) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ParseBearer(r.Header.Get(authHeader))
		if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
			writeAuthError(w, r, err)
			return
		}
		var owner auth.OwnerResolver
		if op.Owner != nil {
			owner = func(context.Context) (string, error) { return op.Owner(r) }
		}
		caller, stage, err := a.guard.Enforce(r.Context(), op.Endpoint, token, owner)
		if err != nil {
			if errors.Is(err, auth.ErrDenied) {
				obs.Logger().Info("access denied",
					zap.String("endpoint", op.Endpoint),
					zap.String("stage", stage.String()),
					zap.String("request_id", RequestIDFromContext(r.Context())),
				)
			}
			writeAuthError(w, r, err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), caller)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithRequestInfo(ctx, audit.RequestInfo{IP: clientIP(r), Path: r.URL.Path, Method: r.Method})
		r = r.WithContext(ctx)

		out, err := op.Handle(r, caller)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}
		// Audit failures are logged and counted by the recorder and never change the response.
		_ = a.audit.Record(ctx, audit.Event{
			ActorID:      caller.UserID,
			Action:       op.Action,
			ResourceType: op.Resource,
			ResourceID:   out.ResourceID,
			Before:       out.Before,
			After:        out.After,
		})

		status := out.Status
		if status == 0 {
			status = http.StatusOK
			if out.Body == nil {
				status = http.StatusNoContent
			}
		}
		if out.Body == nil {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, out.Body)
	})
}

// OwnerFromParam resolves ownership from a chi URL parameter. With a nil lookup the
// parameter itself is the owning employee id; otherwise lookup maps it to one.
func OwnerFromParam(param string, lookup func(ctx context.Context, id string) (string, error)) OwnerFunc {
	return func(r *http.Request) (string, error) {
		id := strings.TrimSpace(chi.URLParam(r, param))
		if id == "" {
			return "", fmt.Errorf("%w: missing %s", auth.ErrInvalidInput, param)
		}
		if lookup == nil {
			return id, nil
		}
		return lookup(r.Context(), id)
	}
}

// writeAuthError is the single mapping from auth errors to HTTP responses.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrDuplicateIdentity):
		writeError(w, r, http.StatusConflict, "identity already exists")
	case errors.Is(err, auth.ErrAuthenticationFailed):
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrcore"`)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrcore", error="invalid_token"`)
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="hrcore"`)
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, auth.ErrDenied):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), "auth: "))
	default:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
