package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"hrcore.org/internal/ids"
	"hrcore.org/internal/notify"
	"hrcore.org/internal/obs"
)

const (
	defaultRefreshTTL = 14 * 24 * time.Hour
	defaultResetTTL   = 30 * time.Minute
	// MaxResetTTL caps how long a reset token may stay usable.
	MaxResetTTL = time.Hour

	refreshTokenBytes = 32
	resetTokenBytes   = 32
)

// Service implements the credential, token and password reset flows.
type Service struct {
	store      Store
	issuer     *Issuer
	hasher     Hasher
	notifier   notify.Notifier
	now        func() time.Time
	refreshTTL time.Duration
	resetTTL   time.Duration

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithResetTTL configures password reset token lifetime (at most MaxResetTTL).
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > MaxResetTTL {
			return fmt.Errorf("auth: reset ttl %s exceeds %s", ttl, MaxResetTTL)
		}
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// WithHasher overrides the password hasher (bcrypt at default cost otherwise).
func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithNotifier sets the out-of-band channel for reset tokens.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) error {
		if n != nil {
			s.notifier = n
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:      store,
		issuer:     issuer,
		hasher:     BcryptHasher{},
		now:        time.Now,
		refreshTTL: defaultRefreshTTL,
		resetTTL:   defaultResetTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.notifier == nil {
		svc.notifier = notify.LogNotifier{Logger: obs.Logger()}
	}
	return svc, nil
}

// NewUser describes an account created by an administrator.
type NewUser struct {
	Email      string
	Password   string
	Role       Role
	EmployeeID string
}

// Register creates an active user. ErrDuplicateIdentity if the email is taken.
func (s *Service) Register(ctx context.Context, email, password string, role Role) (User, error) {
	return s.Provision(ctx, NewUser{Email: email, Password: password, Role: role})
}

// Provision creates an active user, employee link included, in a single insert.
func (s *Service) Provision(ctx context.Context, nu NewUser) (User, error) {
	email, err := normalizeEmail(nu.Email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(nu.Password); err != nil {
		return User{}, err
	}
	role := nu.Role
	if !role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		EmployeeID:   strings.TrimSpace(nu.EmployeeID),
	}
	if err := s.store.Users(ctx).Create(ctx, u); err != nil {
		return User{}, err
	}
	obs.Logger().Info("user registered", zap.String("user_id", u.ID), zap.String("role", role.String()))
	return *u, nil
}

// Verify checks credentials. Unknown user, inactive user and wrong password all yield
// ErrAuthenticationFailed.
func (s *Service) Verify(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return User{}, ErrAuthenticationFailed
	}
	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnHash(password)
			return User{}, ErrAuthenticationFailed
		}
		return User{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		if !errors.Is(err, errPasswordMismatch) {
			obs.Logger().Warn("password verification error", zap.String("user_id", u.ID), zap.Error(err))
		}
		return User{}, ErrAuthenticationFailed
	}
	if !u.Active {
		return User{}, ErrAuthenticationFailed
	}
	return *u, nil
}

// burnHash spends one verification on unknown emails so response time does not reveal
// whether the account exists.
func (s *Service) burnHash(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	if s.dummyHash != "" {
		_ = VerifyPassword(s.dummyHash, password)
	}
}

// Login verifies credentials and starts a new session, invalidating every earlier
// refresh token of the user.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, User, error) {
	u, err := s.Verify(ctx, email, password)
	if err != nil {
		obs.AuthEvents.WithLabelValues("login", "failure").Inc()
		return TokenPair{}, User{}, err
	}
	pair, err := s.startSession(ctx, u)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	now := s.now().UTC()
	if err := s.store.Users(ctx).TouchLogin(ctx, u.ID, now); err != nil {
		obs.Logger().Warn("update last login failed", zap.String("user_id", u.ID), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}
	obs.AuthEvents.WithLabelValues("login", "success").Inc()
	return pair, u, nil
}

// SignUp registers a user and starts their first session.
func (s *Service) SignUp(ctx context.Context, email, password string, role Role) (TokenPair, User, error) {
	u, err := s.Register(ctx, email, password, role)
	if err != nil {
		obs.AuthEvents.WithLabelValues("register", "failure").Inc()
		return TokenPair{}, User{}, err
	}
	pair, err := s.startSession(ctx, u)
	if err != nil {
		return TokenPair{}, User{}, err
	}
	obs.AuthEvents.WithLabelValues("register", "success").Inc()
	return pair, u, nil
}

func (s *Service) startSession(ctx context.Context, u User) (TokenPair, error) {
	access, err := s.issuer.Issue(u.Identity())
	if err != nil {
		return TokenPair{}, err
	}
	raw, err := ids.Secret(refreshTokenBytes)
	if err != nil {
		return TokenPair{}, err
	}
	now := s.now().UTC()
	rec := &RefreshToken{
		UserID:    u.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.store.RefreshTokens(ctx).Replace(ctx, rec); err != nil {
		return TokenPair{}, fmt.Errorf("persist refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     raw,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// Refresh issues a new access token for a live refresh token. The refresh token itself
// is not rotated. The access token reflects the user's current role and employee link.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AccessToken, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AccessToken{}, ErrInvalidToken
	}
	rec, err := s.store.RefreshTokens(ctx).FindByHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.AuthEvents.WithLabelValues("refresh", "invalid").Inc()
			return AccessToken{}, ErrInvalidToken
		}
		return AccessToken{}, err
	}
	if s.now().After(rec.ExpiresAt) {
		obs.AuthEvents.WithLabelValues("refresh", "expired").Inc()
		return AccessToken{}, ErrInvalidToken
	}
	u, err := s.store.Users(ctx).Find(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessToken{}, ErrInvalidToken
		}
		return AccessToken{}, err
	}
	if !u.Active {
		return AccessToken{}, ErrInvalidToken
	}
	access, err := s.issuer.Issue(u.Identity())
	if err != nil {
		return AccessToken{}, err
	}
	obs.AuthEvents.WithLabelValues("refresh", "success").Inc()
	return access, nil
}

// RevokeAll deletes every refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	n, err := s.store.RefreshTokens(ctx).DeleteByUser(ctx, userID)
	if err != nil {
		return err
	}
	obs.Logger().Info("refresh tokens revoked", zap.String("user_id", userID), zap.Int64("count", n))
	return nil
}

// RequestReset issues a reset token for an active account and hands it to the notifier.
// It returns nil for unknown emails and swallows delivery failures, so the response
// never reveals whether an account exists.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	log := obs.Logger()
	u, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error("reset lookup failed", zap.Error(err))
		}
		obs.AuthEvents.WithLabelValues("reset_request", "ignored").Inc()
		return nil
	}
	if !u.Active {
		obs.AuthEvents.WithLabelValues("reset_request", "ignored").Inc()
		return nil
	}
	raw, err := ids.Secret(resetTokenBytes)
	if err != nil {
		log.Error("reset token generation failed", zap.Error(err))
		return nil
	}
	now := s.now().UTC()
	tok := &PasswordResetToken{
		UserID:    u.ID,
		TokenHash: hashToken(raw),
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.ResetTokens(ctx).Create(ctx, tok); err != nil {
		log.Error("persist reset token failed", zap.String("user_id", u.ID), zap.Error(err))
		return nil
	}
	msg := notify.PasswordReset{UserID: u.ID, Email: u.Email, Token: raw, ExpiresAt: tok.ExpiresAt}
	if err := s.notifier.SendPasswordReset(ctx, msg); err != nil {
		log.Error("deliver reset token failed", zap.String("user_id", u.ID), zap.Error(err))
		return nil
	}
	obs.AuthEvents.WithLabelValues("reset_request", "issued").Inc()
	return nil
}

// CompleteReset consumes a reset token, sets newPassword and returns the id of the
// user whose password changed. A token works exactly once; the password replacement
// and the consumption are one store transaction.
func (s *Service) CompleteReset(ctx context.Context, token, newPassword string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if err := validatePassword(newPassword); err != nil {
		return "", err
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.store.ResetTokens(ctx).Consume(ctx, hashToken(token), hash, s.now())
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			obs.AuthEvents.WithLabelValues("reset_complete", "invalid").Inc()
		}
		return "", err
	}
	obs.AuthEvents.WithLabelValues("reset_complete", "success").Inc()
	obs.Logger().Info("password reset completed", zap.String("user_id", userID))
	return userID, nil
}

// User loads a user by id.
func (s *Service) User(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	u, err := s.store.Users(ctx).Find(ctx, id)
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

// UpdateUser applies role, activation and employee link changes. Deactivating a user
// revokes all of their refresh tokens.
func (s *Service) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, *upd.Role)
	}
	if upd.EmployeeID != nil {
		trimmed := strings.TrimSpace(*upd.EmployeeID)
		upd.EmployeeID = &trimmed
	}
	u, err := s.store.Users(ctx).Update(ctx, id, upd)
	if err != nil {
		return User{}, err
	}
	if upd.Active != nil && !*upd.Active {
		if err := s.RevokeAll(ctx, id); err != nil {
			return User{}, err
		}
	}
	return *u, nil
}

// EnsureAdmin creates an ADMIN account for email if none exists yet. It reports whether
// a user was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	if _, err := s.store.Users(ctx).FindByEmail(ctx, normalized); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if _, err := s.Register(ctx, normalized, password, RoleAdmin); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SweepExpired deletes expired refresh tokens and expired or consumed reset tokens.
// Expiry is enforced on every use; this only reclaims storage.
func (s *Service) SweepExpired(ctx context.Context) (refresh, reset int64, err error) {
	now := s.now()
	refresh, err = s.store.RefreshTokens(ctx).DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep refresh tokens: %w", err)
	}
	reset, err = s.store.ResetTokens(ctx).DeleteExpired(ctx, now)
	if err != nil {
		return refresh, 0, fmt.Errorf("sweep reset tokens: %w", err)
	}
	return refresh, reset, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
