package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"sitewright.io/internal/access"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectDone(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGroupDemotesPreviousDefault(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("update groups set is_default = false").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("insert into groups").
		WithArgs("g1", "Trial", "trial", 5, []byte(`{"content.trial":true}`), true, false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	err := store.CreateGroup(context.Background(), &access.Group{
		ID:             "g1",
		Name:           "Trial",
		Slug:           "trial",
		HierarchyLevel: 5,
		Permissions:    access.PermissionMap{"content.trial": true},
		IsDefault:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
	expectDone(t, mock)
}

func TestCreateGroupMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("insert into groups").
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := store.CreateGroup(context.Background(), &access.Group{
		ID: "g1", Name: "Trial", Slug: "trial", HierarchyLevel: 5,
	})
	if !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectDone(t, mock)
}

func TestGetGroupNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select .* from groups where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.GetGroup(context.Background(), "missing"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestDeleteGroupMapsRestrictViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("delete from groups where id").
		WithArgs("g1").
		WillReturnError(&pgconn.PgError{Code: "23503"})

	if err := store.DeleteGroup(context.Background(), "g1"); !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectDone(t, mock)
}

func TestGetUserScansRow(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "group_id", "email", "display_name", "password_hash", "status",
		"email_verified", "email_verified_at", "permission_overrides",
		"last_login_at", "last_login_ip", "created_at", "updated_at",
	}).AddRow("u1", "g1", "a@example.com", "Alice", "hash", "active",
		true, now, []byte(`{"forum.post":false}`), nil, nil, now, now)

	mock.ExpectQuery("select .* from users where id").
		WithArgs("u1").
		WillReturnRows(rows)

	user, err := store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.DisplayName != "Alice" || user.Status != access.StatusActive {
		t.Fatalf("unexpected user: %+v", user)
	}
	if v, ok := user.Overrides["forum.post"]; !ok || v {
		t.Fatalf("overrides not decoded: %+v", user.Overrides)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", user.LastLoginAt)
	}
	expectDone(t, mock)
}

func TestUpdateUserStatusNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("update users set status").
		WithArgs("missing", access.StatusSuspended).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateUserStatus(context.Background(), "missing", access.StatusSuspended)
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestTouchSessionLeavesExpiryAlone(t *testing.T) {
	store, mock := newMock(t)
	at := time.Now()

	// the statement must only touch last_activity_at
	mock.ExpectExec(`update sessions set last_activity_at = \$2 where id = \$1`).
		WithArgs("s1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.TouchSession(context.Background(), "s1", at); err != nil {
		t.Fatal(err)
	}
	expectDone(t, mock)
}

func TestConsumeVerificationDeletesAndReturns(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	payload := []byte(`{"email":"a@example.com","password_hash":"hash","answers":[{"question_id":"q1","answer_hash":"h1"}]}`)
	mock.ExpectQuery("delete from email_verifications where token = .* returning").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"email", "token", "registration_data", "expires_at", "created_at"}).
			AddRow("a@example.com", "tok", payload, now.Add(time.Hour), now))

	v, err := store.ConsumeVerification(context.Background(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	if v.Registration.PasswordHash != "hash" || len(v.Registration.Answers) != 1 {
		t.Fatalf("registration not decoded: %+v", v.Registration)
	}
	expectDone(t, mock)
}

func TestConsumeVerificationSecondCallerLoses(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("delete from email_verifications where token").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows([]string{"email"}))

	if _, err := store.ConsumeVerification(context.Background(), "tok"); !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestDeleteExpiredSessionsCounts(t *testing.T) {
	store, mock := newMock(t)
	before := time.Now()

	mock.ExpectExec("delete from sessions where expires_at").
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.DeleteExpiredSessions(context.Background(), before)
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
	expectDone(t, mock)
}
