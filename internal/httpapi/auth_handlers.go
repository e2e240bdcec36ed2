package httpapi

import (
	"net/http"
	"time"

	"hrcore.org/internal/audit"
	"hrcore.org/internal/auth"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User             auth.User `json:"user"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newSessionResponse(u auth.User, pair auth.TokenPair) sessionResponse {
	return sessionResponse{
		User:             u,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// handleRegister is self-registration; the account always gets the EMPLOYEE role.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, u, err := a.auth.SignUp(r.Context(), req.Email, req.Password, auth.RoleEmployee)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	ctx := audit.WithRequestInfo(r.Context(), audit.RequestInfo{IP: clientIP(r), Path: r.URL.Path, Method: r.Method})
	_ = a.audit.Record(ctx, audit.Event{
		ActorID:      u.ID,
		Action:       audit.ActionCreate,
		ResourceType: "user",
		ResourceID:   u.ID,
		After:        u,
	})
	writeJSON(w, http.StatusCreated, newSessionResponse(u, pair))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, u, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(u, pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	access, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, access)
}

// handleForgotPassword answers 202 whether or not the email is known.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_ = a.auth.RequestReset(r.Context(), req.Email)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := a.auth.CompleteReset(r.Context(), req.Token, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	// The reset token is the credential here, so the account owner is the actor.
	ctx := audit.WithRequestInfo(r.Context(), audit.RequestInfo{IP: clientIP(r), Path: r.URL.Path, Method: r.Method})
	_ = a.audit.Record(ctx, audit.Event{
		ActorID:      userID,
		Action:       audit.ActionUpdate,
		ResourceType: "user",
		ResourceID:   userID,
		After:        map[string]any{"passwordReset": true, "sessionsRevoked": true},
	})
	w.WriteHeader(http.StatusNoContent)
}
