package auth

import (
	"context"
	"sync"
	"time"

	"hrcore.org/internal/ids"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store used by tests and by the API when no database
// is configured. One mutex guards all tables, which makes every method atomic.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User
	byEmail map[string]string
	refresh map[string]*RefreshToken
	resets  map[string]*PasswordResetToken
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		refresh: make(map[string]*RefreshToken),
		resets:  make(map[string]*PasswordResetToken),
		now:     time.Now,
	}
}

func (s *MemoryStore) Users(context.Context) UserStore                 { return memUsers{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefresh{s} }
func (s *MemoryStore) ResetTokens(context.Context) ResetTokenStore     { return memResets{s} }

// RefreshTokenCount reports live refresh tokens of userID.
func (s *MemoryStore) RefreshTokenCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.refresh {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.byEmail[u.Email]; ok {
		return ErrDuplicateIdentity
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := m.s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.s.users[u.ID] = &cp
	m.s.byEmail[u.Email] = u.ID
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.users[id]
	return &cp, nil
}

func (m memUsers) Update(_ context.Context, id string, upd UserUpdate) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	if upd.EmployeeID != nil {
		u.EmployeeID = *upd.EmployeeID
	}
	u.UpdatedAt = m.s.now().UTC()
	cp := *u
	return &cp, nil
}

func (m memUsers) TouchLogin(_ context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	return nil
}

type memRefresh struct{ s *MemoryStore }

func (m memRefresh) Replace(_ context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[tok.UserID]; !ok {
		return ErrNotFound
	}
	for hash, t := range m.s.refresh {
		if t.UserID == tok.UserID {
			delete(m.s.refresh, hash)
		}
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = m.s.now().UTC()
	}
	cp := *tok
	m.s.refresh[tok.TokenHash] = &cp
	return nil
}

func (m memRefresh) FindByHash(_ context.Context, tokenHash string) (*RefreshToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.refresh[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m memRefresh) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.deleteRefreshLocked(userID), nil
}

func (m memRefresh) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for hash, t := range m.s.refresh {
		if now.After(t.ExpiresAt) {
			delete(m.s.refresh, hash)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) deleteRefreshLocked(userID string) int64 {
	var n int64
	for hash, t := range s.refresh {
		if t.UserID == userID {
			delete(s.refresh, hash)
			n++
		}
	}
	return n
}

type memResets struct{ s *MemoryStore }

func (m memResets) Create(_ context.Context, tok *PasswordResetToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for hash, t := range m.s.resets {
		if t.UserID == tok.UserID && t.UsedAt == nil {
			delete(m.s.resets, hash)
		}
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = m.s.now().UTC()
	}
	cp := *tok
	m.s.resets[tok.TokenHash] = &cp
	return nil
}

func (m memResets) Consume(_ context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	t, ok := m.s.resets[tokenHash]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return "", ErrInvalidToken
	}
	u, ok := m.s.users[t.UserID]
	if !ok || !u.Active {
		return "", ErrInvalidToken
	}
	used := now.UTC()
	t.UsedAt = &used
	u.PasswordHash = passwordHash
	u.UpdatedAt = used
	m.s.deleteRefreshLocked(u.ID)
	return u.ID, nil
}

func (m memResets) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for hash, t := range m.s.resets {
		if t.UsedAt != nil || !now.Before(t.ExpiresAt) {
			delete(m.s.resets, hash)
			n++
		}
	}
	return n, nil
}
