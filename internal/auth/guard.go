package auth

import (
	"context"
	"errors"
	"strings"

	"hrcore.org/internal/obs"
)

// Stage is the point a request reached in the authorization pipeline.
type Stage int

const (
	StageUnauthenticated Stage = iota
	StageTokenPresented
	StageTokenValidated
	StageRoleChecked
	StageOwnershipChecked
	StageAuthorized
	StageDenied
)

var stageNames = [...]string{
	StageUnauthenticated:  "unauthenticated",
	StageTokenPresented:   "token_presented",
	StageTokenValidated:   "token_validated",
	StageRoleChecked:      "role_checked",
	StageOwnershipChecked: "ownership_checked",
	StageAuthorized:       "authorized",
	StageDenied:           "denied",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// OwnerResolver returns the employee id owning the resource a request targets.
type OwnerResolver func(ctx context.Context) (string, error)

// Guard validates access tokens and enforces the endpoint policy.
type Guard struct {
	issuer *Issuer
	policy *Policy
}

// NewGuard wires a Guard to the token issuer and policy table.
func NewGuard(issuer *Issuer, policy *Policy) (*Guard, error) {
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	if policy == nil {
		return nil, errors.New("auth: policy is required")
	}
	return &Guard{issuer: issuer, policy: policy}, nil
}

// Policy exposes the endpoint table the guard enforces.
func (g *Guard) Policy() *Policy { return g.policy }

// Authenticate validates a bearer token. An empty token is ErrUnauthenticated; anything
// that fails verification is ErrInvalidToken.
func (g *Guard) Authenticate(_ context.Context, bearer string) (Identity, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return Identity{}, ErrUnauthenticated
	}
	return g.issuer.Parse(bearer)
}

// Authorize checks id against rule. Ownership is evaluated only for roles outside the
// rule's bypass set and fails closed when there is no resolver or no employee link.
func (g *Guard) Authorize(ctx context.Context, id Identity, rule Rule, owner OwnerResolver) (Identity, error) {
	_, err := g.authorize(ctx, id, rule, owner)
	if err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (g *Guard) authorize(ctx context.Context, id Identity, rule Rule, owner OwnerResolver) (Stage, error) {
	if !rule.Allows(id.Role) {
		return StageTokenValidated, ErrDenied
	}
	if !rule.NeedsOwnership(id.Role) {
		return StageAuthorized, nil
	}
	if owner == nil || id.EmployeeID == "" {
		return StageRoleChecked, ErrDenied
	}
	ownerID, err := owner(ctx)
	if err != nil {
		return StageRoleChecked, err
	}
	if ownerID == "" || ownerID != id.EmployeeID {
		return StageRoleChecked, ErrDenied
	}
	return StageAuthorized, nil
}

// Enforce runs the whole pipeline for endpoint and reports the stage that decided it.
// On success the stage is StageAuthorized.
func (g *Guard) Enforce(ctx context.Context, endpoint, bearer string, owner OwnerResolver) (Identity, Stage, error) {
	stage := StageUnauthenticated
	if strings.TrimSpace(bearer) != "" {
		stage = StageTokenPresented
	}
	id, err := g.Authenticate(ctx, bearer)
	if err != nil {
		g.observe(endpoint, "unauthenticated", stage)
		return Identity{}, stage, err
	}
	rule, ok := g.policy.Rule(endpoint)
	if !ok {
		g.observe(endpoint, "denied", StageTokenValidated)
		return Identity{}, StageTokenValidated, ErrDenied
	}
	stage, err = g.authorize(ctx, id, rule, owner)
	if err != nil {
		outcome := "denied"
		if !errors.Is(err, ErrDenied) {
			outcome = "error"
		}
		g.observe(endpoint, outcome, stage)
		return Identity{}, stage, err
	}
	g.observe(endpoint, "allowed", stage)
	return id, stage, nil
}

func (g *Guard) observe(endpoint, outcome string, stage Stage) {
	obs.GuardDecisions.WithLabelValues(endpoint, outcome, stage.String()).Inc()
}
