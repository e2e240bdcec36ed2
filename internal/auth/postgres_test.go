package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(sqlx.NewDb(db, "sqlmock")), mock
}

var userCols = []string{"id", "email", "password_hash", "role", "active", "employee_id", "last_login_at", "created_at", "updated_at"}

func TestPGUserCreate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "a@x.com", "hash", "EMPLOYEE", true, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@x.com", "hash", "EMPLOYEE", true, nil, nil, now, now))

	u := &User{Email: "a@x.com", PasswordHash: "hash", Role: RoleEmployee, Active: true}
	if err := store.Users(context.Background()).Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID != "u1" || u.EmployeeID != "" || u.LastLoginAt != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProvisionLinksEmployeeInSingleInsert(t *testing.T) {
	store, mock := newMockStore(t)
	iss, err := NewHS256Issuer(testSecret)
	if err != nil {
		t.Fatalf("NewHS256Issuer: %v", err)
	}
	svc, err := NewService(store, iss, WithHasher(BcryptHasher{Cost: bcrypt.MinCost}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	now := time.Now().UTC()
	// Any follow-up update would be an unexpected call and fail the expectations.
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "hr2@x.com", sqlmock.AnyArg(), "HR", true, "emp-7").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u7", "hr2@x.com", "hash", "HR", true, "emp-7", nil, now, now))

	u, err := svc.Provision(context.Background(), NewUser{Email: "HR2@x.com", Password: "password1", Role: RoleHR, EmployeeID: " emp-7 "})
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if u.ID != "u7" || u.EmployeeID != "emp-7" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUserCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").WillReturnError(&pgconn.PgError{Code: "23505"})

	u := &User{Email: "a@x.com", PasswordHash: "hash", Role: RoleEmployee, Active: true}
	if err := store.Users(context.Background()).Create(context.Background(), u); !errors.Is(err, ErrDuplicateIdentity) {
		t.Fatalf("expected ErrDuplicateIdentity, got %v", err)
	}
}

func TestPGUserFindByEmailMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from users where email").WithArgs("none@x.com").WillReturnRows(sqlmock.NewRows(userCols))

	if _, err := store.Users(context.Background()).FindByEmail(context.Background(), "none@x.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGUserUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`update users set role = \$1, active = \$2, updated_at = now\(\) where id = \$3`).
		WithArgs("HR", false, "u1").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("u1", "a@x.com", "hash", "HR", false, "emp-1", now, now, now))

	role := RoleHR
	active := false
	u, err := store.Users(context.Background()).Update(context.Background(), "u1", UserUpdate{Role: &role, Active: &active})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if u.Role != RoleHR || u.Active || u.EmployeeID != "emp-1" || u.LastLoginAt == nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRefreshReplaceIsTransactional(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from users where id = .* for update").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("u1"))
	mock.ExpectExec("delete from refresh_tokens where user_id").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", "h1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tok := &RefreshToken{UserID: "u1", TokenHash: "h1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.RefreshTokens(context.Background()).Replace(context.Background(), tok); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if tok.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRefreshReplaceUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from users").WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.RefreshTokens(context.Background()).Replace(context.Background(), &RefreshToken{UserID: "ghost", TokenHash: "h"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGResetConsume(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update password_reset_tokens set used_at").WithArgs("rh", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec("update users set password_hash").WithArgs("u1", "newhash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from refresh_tokens where user_id").WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	userID, err := store.ResetTokens(context.Background()).Consume(context.Background(), "rh", "newhash", time.Now())
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("unexpected user id %q", userID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGResetConsumeUsedToken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update password_reset_tokens set used_at").WithArgs("rh", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectRollback()

	if _, err := store.ResetTokens(context.Background()).Consume(context.Background(), "rh", "newhash", time.Now()); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGResetCreateInvalidatesOlder(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from password_reset_tokens where user_id = .* and used_at is null").WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into password_reset_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", "rh", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tok := &PasswordResetToken{UserID: "u1", TokenHash: "rh", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.ResetTokens(context.Background()).Create(context.Background(), tok); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGDeleteExpired(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from refresh_tokens where expires_at").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from password_reset_tokens where used_at is not null").WillReturnResult(sqlmock.NewResult(0, 2))

	now := time.Now()
	n, err := store.RefreshTokens(context.Background()).DeleteExpired(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("refresh DeleteExpired: n=%d err=%v", n, err)
	}
	n, err = store.ResetTokens(context.Background()).DeleteExpired(context.Background(), now)
	if err != nil || n != 2 {
		t.Fatalf("reset DeleteExpired: n=%d err=%v", n, err)
	}
}
