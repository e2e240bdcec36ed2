package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"hrcore.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through sqlx.
type PGStore struct {
	db *sqlx.DB
}

func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore                 { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore { return &refreshStore{db: s.db} }
func (s *PGStore) ResetTokens(context.Context) ResetTokenStore     { return &resetStore{db: s.db} }

// User store ---------------------------------------------------------------

const userColumns = `id, email, password_hash, role, active, employee_id, last_login_at, created_at, updated_at`

type userRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	Active       bool           `db:"active"`
	EmployeeID   sql.NullString `db:"employee_id"`
	LastLoginAt  sql.NullTime   `db:"last_login_at"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r userRow) toUser() *User {
	u := &User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         Role(r.Role),
		Active:       r.Active,
		EmployeeID:   r.EmployeeID.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LastLoginAt.Valid {
		t := r.LastLoginAt.Time
		u.LastLoginAt = &t
	}
	return u
}

type userStore struct{ db *sqlx.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		insert into users (id, email, password_hash, role, active, employee_id)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		u.ID, u.Email, u.PasswordHash, string(u.Role), u.Active, nullIfEmpty(u.EmployeeID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("insert user: %w", err)
	}
	*u = *row.toUser()
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return s.one(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.one(ctx, `select `+userColumns+` from users where email = $1`, email)
}

func (s *userStore) one(ctx context.Context, query string, arg string) (*User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (s *userStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", idx))
		args = append(args, string(*upd.Role))
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if upd.EmployeeID != nil {
		sets = append(sets, fmt.Sprintf("employee_id = $%d", idx))
		args = append(args, nullIfEmpty(*upd.EmployeeID))
		idx++
	}
	if len(sets) == 0 {
		return s.Find(ctx, id)
	}
	sets = append(sets, "updated_at = now()")
	query := fmt.Sprintf(`update users set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, userColumns)
	args = append(args, id)

	var row userRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toUser(), nil
}

func (s *userStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Refresh token store -------------------------------------------------------

type refreshRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	TokenHash string    `db:"token_hash"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

type refreshStore struct{ db *sqlx.DB }

func (s *refreshStore) Replace(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serializes concurrent logins of the same user: the second transaction
	// only deletes after the first committed, so its token cannot survive.
	var locked string
	if err := tx.GetContext(ctx, &locked, `select id from users where id = $1 for update`, tok.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, tok.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt.UTC(), tok.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *refreshStore) FindByHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	var row refreshRow
	err := s.db.GetContext(ctx, &row,
		`select id, user_id, token_hash, expires_at, created_at from refresh_tokens where token_hash = $1`, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &RefreshToken{
		ID:        row.ID,
		UserID:    row.UserID,
		TokenHash: row.TokenHash,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (s *refreshStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *refreshStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reset token store ---------------------------------------------------------

type resetStore struct{ db *sqlx.DB }

func (s *resetStore) Create(ctx context.Context, tok *PasswordResetToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`delete from password_reset_tokens where user_id = $1 and used_at is null`, tok.UserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt.UTC(), tok.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *resetStore) Consume(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	now = now.UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// The conditional update takes the row lock; a concurrent consumer blocks, then
	// re-evaluates used_at and matches nothing.
	var userID string
	err = tx.GetContext(ctx, &userID, `
		update password_reset_tokens set used_at = $2
		where token_hash = $1 and used_at is null and expires_at > $2
		returning user_id`, tokenHash, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	res, err := tx.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = $3 where id = $1 and active`, userID, passwordHash, now)
	if err != nil {
		return "", err
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", err
	} else if n == 0 {
		return "", ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *resetStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from password_reset_tokens where used_at is not null or expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// helpers -------------------------------------------------------------------

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
