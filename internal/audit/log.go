package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hrcore.org/internal/auth"
	"hrcore.org/internal/ids"
	"hrcore.org/internal/obs"
)

// Action is the kind of operation an audit entry records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionRead   Action = "READ"
)

// Valid reports whether a is one of the known action kinds.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionRead:
		return true
	}
	return false
}

// Mutating reports whether a changes state.
func (a Action) Mutating() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Entry is one immutable audit record.
type Entry struct {
	ID           string          `json:"id"`
	ActorID      string          `json:"actorId"`
	Action       Action          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
	IP           string          `json:"ip,omitempty"`
	Path         string          `json:"path,omitempty"`
	Method       string          `json:"method,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
}

// Event is what callers hand to the recorder. Snapshots are recorded as given;
// the recorder does not compute diffs.
type Event struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	Before       any
	After        any
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	ActorID      string
	Action       Action
	ResourceType string
	ResourceID   string
	Limit        int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Store persists audit entries. Implementations never update or delete.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Recorder appends audit entries enriched with request context.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures Recorder behavior.
type RecorderOption func(*Recorder)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewRecorder(store Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Record appends one entry for ev. The actor defaults to the identity in ctx.
// A failure is logged and counted before it is returned; callers may ignore it.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	entry, err := r.build(ctx, ev)
	if err == nil {
		err = r.store.Append(ctx, entry)
	}
	if err != nil {
		obs.AuditWriteFailures.Inc()
		obs.Logger().Error("audit write failed",
			zap.String("actor_id", entry.ActorID),
			zap.String("action", string(ev.Action)),
			zap.String("resource_type", ev.ResourceType),
			zap.String("resource_id", ev.ResourceID),
			zap.String("request_id", entry.RequestID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (r *Recorder) build(ctx context.Context, ev Event) (Entry, error) {
	info := requestInfoFromContext(ctx)
	entry := Entry{
		ID:           ids.New(),
		ActorID:      strings.TrimSpace(ev.ActorID),
		Action:       ev.Action,
		ResourceType: strings.TrimSpace(ev.ResourceType),
		ResourceID:   strings.TrimSpace(ev.ResourceID),
		OccurredAt:   r.now().UTC(),
		IP:           info.IP,
		Path:         info.Path,
		Method:       info.Method,
		RequestID:    requestIDFromContext(ctx),
	}
	if entry.ActorID == "" {
		if id, ok := auth.IdentityFromContext(ctx); ok {
			entry.ActorID = id.UserID
		}
	}
	switch {
	case entry.ActorID == "":
		return entry, errors.New("audit: actor is required")
	case !entry.Action.Valid():
		return entry, fmt.Errorf("audit: unknown action %q", ev.Action)
	case entry.ResourceType == "":
		return entry, errors.New("audit: resource type is required")
	}
	var err error
	if entry.Before, err = snapshot(ev.Before); err != nil {
		return entry, fmt.Errorf("audit: encode before: %w", err)
	}
	if entry.After, err = snapshot(ev.After); err != nil {
		return entry, fmt.Errorf("audit: encode after: %w", err)
	}
	return entry, nil
}

// List returns entries newest first.
func (r *Recorder) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Action != "" && !f.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", auth.ErrInvalidInput, f.Action)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	return r.store.List(ctx, f)
}

func snapshot(v any) (json.RawMessage, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(s) == 0 {
			return nil, nil
		}
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}
