package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hrcore.org/internal/audit"
	"hrcore.org/internal/auth"
	"hrcore.org/internal/obs"
)

const (
	serviceName     = "hrcore-api"
	defaultMaxBody  = 1 << 20
	defaultBurst    = 10
	defaultRatePerS = 5
)

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ReadyProbe checks backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    Pinger
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps wires the HTTP layer to the auth core.
type Deps struct {
	Auth    *auth.Service
	Guard   *auth.Guard
	Audit   *audit.Recorder
	Ready   ReadyProbe
	Version string

	// RateBurst and RatePerSecond limit public auth endpoints per client IP.
	RateBurst     int
	RatePerSecond float64
	MaxBodyBytes  int64
	// TrustedProxies are the peers whose X-Forwarded-For header is believed.
	TrustedProxies []netip.Prefix
}

// API is the HTTP boundary of the identity service.
type API struct {
	router  chi.Router
	auth    *auth.Service
	guard   *auth.Guard
	audit   *audit.Recorder
	ready   ReadyProbe
	version string
	limiter *rateLimiter
}

func New(d Deps) (*API, error) {
	if d.Auth == nil || d.Guard == nil || d.Audit == nil {
		return nil, errors.New("httpapi: auth service, guard and audit recorder are required")
	}
	if d.RateBurst <= 0 {
		d.RateBurst = defaultBurst
	}
	if d.RatePerSecond <= 0 {
		d.RatePerSecond = defaultRatePerS
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBody
	}
	a := &API{
		auth:    d.Auth,
		guard:   d.Guard,
		audit:   d.Audit,
		ready:   d.Ready,
		version: d.Version,
		limiter: newRateLimiter(d.RateBurst, d.RatePerSecond),
	}

	r := chi.NewRouter()
	r.Use(RequestID, ClientIP(d.TrustedProxies), Logging, SecurityHeaders, obs.Instrument, MaxBodyBytes(d.MaxBodyBytes))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Post("/v1/auth/register", a.handleRegister)
		r.Post("/v1/auth/login", a.handleLogin)
		r.Post("/v1/auth/refresh", a.handleRefresh)
		r.Post("/v1/auth/password/forgot", a.handleForgotPassword)
		r.Post("/v1/auth/password/reset", a.handleResetPassword)
	})
	a.router = r

	if err := a.Mount(a.identityOperations()...); err != nil {
		return nil, err
	}
	return a, nil
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
