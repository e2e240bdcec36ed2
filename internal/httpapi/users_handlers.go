package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hrcore.org/internal/audit"
	"hrcore.org/internal/auth"
)

type createUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role"`
	EmployeeID string `json:"employeeId"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type linkEmployeeRequest struct {
	EmployeeID string `json:"employeeId"`
}

func (a *API) identityOperations() []Operation {
	userOwner := OwnerFromParam("userID", a.userEmployee)
	return []Operation{
		{Endpoint: "auth.logout", Method: http.MethodPost, Pattern: "/v1/auth/logout",
			Action: audit.ActionDelete, Resource: "session", Handle: a.logout},
		{Endpoint: "auth.me", Method: http.MethodGet, Pattern: "/v1/auth/me",
			Action: audit.ActionRead, Resource: "user", Handle: a.me},
		{Endpoint: "users.create", Method: http.MethodPost, Pattern: "/v1/users",
			Action: audit.ActionCreate, Resource: "user", Handle: a.createUser},
		{Endpoint: "users.read", Method: http.MethodGet, Pattern: "/v1/users/{userID}",
			Action: audit.ActionRead, Resource: "user", Owner: userOwner, Handle: a.readUser},
		{Endpoint: "users.role", Method: http.MethodPatch, Pattern: "/v1/users/{userID}/role",
			Action: audit.ActionUpdate, Resource: "user", Handle: a.updateRole},
		{Endpoint: "users.employee", Method: http.MethodPut, Pattern: "/v1/users/{userID}/employee",
			Action: audit.ActionUpdate, Resource: "user", Handle: a.linkEmployee},
		{Endpoint: "users.deactivate", Method: http.MethodPost, Pattern: "/v1/users/{userID}/deactivate",
			Action: audit.ActionUpdate, Resource: "user", Handle: a.deactivateUser},
		{Endpoint: "users.revoke_sessions", Method: http.MethodDelete, Pattern: "/v1/users/{userID}/sessions",
			Action: audit.ActionDelete, Resource: "session", Owner: userOwner, Handle: a.revokeSessions},
		{Endpoint: "audit.list", Method: http.MethodGet, Pattern: "/v1/audit",
			Action: audit.ActionRead, Resource: "audit_log", Handle: a.listAudit},
	}
}

func (a *API) userEmployee(ctx context.Context, userID string) (string, error) {
	u, err := a.auth.User(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.EmployeeID, nil
}

func (a *API) logout(r *http.Request, caller auth.Identity) (Outcome, error) {
	if err := a.auth.RevokeAll(r.Context(), caller.UserID); err != nil {
		return Outcome{}, err
	}
	return Outcome{ResourceID: caller.UserID}, nil
}

func (a *API) me(r *http.Request, caller auth.Identity) (Outcome, error) {
	u, err := a.auth.User(r.Context(), caller.UserID)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ResourceID: u.ID, Body: u}, nil
}

func (a *API) createUser(r *http.Request, caller auth.Identity) (Outcome, error) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	role := auth.RoleEmployee
	if req.Role != "" {
		parsed, err := auth.ParseRole(req.Role)
		if err != nil {
			return Outcome{}, err
		}
		role = parsed
	}
	if role == auth.RoleAdmin && caller.Role != auth.RoleAdmin {
		return Outcome{}, auth.ErrDenied
	}
	u, err := a.auth.Provision(r.Context(), auth.NewUser{
		Email:      req.Email,
		Password:   req.Password,
		Role:       role,
		EmployeeID: req.EmployeeID,
	})
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: http.StatusCreated, ResourceID: u.ID, After: u, Body: u}, nil
}

func (a *API) readUser(r *http.Request, _ auth.Identity) (Outcome, error) {
	u, err := a.auth.User(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ResourceID: u.ID, Body: u}, nil
}

func (a *API) updateRole(r *http.Request, _ auth.Identity) (Outcome, error) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return Outcome{}, err
	}
	return a.changeUser(r, auth.UserUpdate{Role: &role})
}

func (a *API) linkEmployee(r *http.Request, _ auth.Identity) (Outcome, error) {
	var req linkEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", auth.ErrInvalidInput, err)
	}
	return a.changeUser(r, auth.UserUpdate{EmployeeID: &req.EmployeeID})
}

func (a *API) deactivateUser(r *http.Request, caller auth.Identity) (Outcome, error) {
	if chi.URLParam(r, "userID") == caller.UserID {
		return Outcome{}, fmt.Errorf("%w: cannot deactivate your own account", auth.ErrInvalidInput)
	}
	inactive := false
	return a.changeUser(r, auth.UserUpdate{Active: &inactive})
}

func (a *API) changeUser(r *http.Request, upd auth.UserUpdate) (Outcome, error) {
	id := chi.URLParam(r, "userID")
	before, err := a.auth.User(r.Context(), id)
	if err != nil {
		return Outcome{}, err
	}
	after, err := a.auth.UpdateUser(r.Context(), id, upd)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{ResourceID: after.ID, Before: before, After: after, Body: after}, nil
}

func (a *API) revokeSessions(r *http.Request, _ auth.Identity) (Outcome, error) {
	id := chi.URLParam(r, "userID")
	if _, err := a.auth.User(r.Context(), id); err != nil {
		return Outcome{}, err
	}
	if err := a.auth.RevokeAll(r.Context(), id); err != nil {
		return Outcome{}, err
	}
	return Outcome{ResourceID: id}, nil
}

func (a *API) listAudit(r *http.Request, _ auth.Identity) (Outcome, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:      q.Get("actorId"),
		Action:       audit.Action(q.Get("action")),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Outcome{}, fmt.Errorf("%w: limit must be a non-negative integer", auth.ErrInvalidInput)
		}
		f.Limit = n
	}
	entries, err := a.audit.List(r.Context(), f)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Body: map[string]any{"entries": entries}}, nil
}
