package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	ResetTokens(ctx context.Context) ResetTokenStore
}

// UserStore manages identity records.
type UserStore interface {
	// Create inserts u, assigning an ID when empty. ErrDuplicateIdentity on email conflict.
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// RefreshTokenStore is the refresh token ledger.
type RefreshTokenStore interface {
	// Replace deletes every refresh token of tok.UserID and inserts tok as one atomic
	// unit, so at most one refresh lineage per user survives concurrent logins.
	Replace(ctx context.Context, tok *RefreshToken) error
	FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ResetTokenStore is the password reset ledger.
type ResetTokenStore interface {
	// Create drops the user's outstanding unused reset tokens and inserts tok.
	Create(ctx context.Context, tok *PasswordResetToken) error
	// Consume marks the token used, replaces the owner's password hash and revokes the
	// owner's refresh tokens in one transaction. The token must be unused and unexpired
	// at now; otherwise ErrInvalidToken and nothing changes.
	Consume(ctx context.Context, tokenHash, passwordHash string, now time.Time) (userID string, err error)
	// DeleteExpired removes expired and already consumed tokens.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
