package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sitewright.io/internal/access"
)

const userColumns = `id, group_id, email, display_name, password_hash, status, email_verified, email_verified_at,
	permission_overrides, last_login_at, last_login_ip, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *access.User) error {
	overrides, err := marshalPermissions(u.Overrides)
	if err != nil {
		return err
	}
	err = s.db.QueryRowContext(ctx, `
		insert into users (id, group_id, email, display_name, password_hash, status, email_verified, email_verified_at, permission_overrides)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, u.ID, u.GroupID, u.Email, nullIfEmpty(u.DisplayName), u.PasswordHash, u.Status, u.EmailVerified, u.EmailVerifiedAt, overrides).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*access.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]*access.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by email`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var users []*access.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserStatus(ctx context.Context, userID, status string) error {
	return s.execOne(ctx, `update users set status = $2, updated_at = now() where id = $1`, userID, status)
}

func (s *Store) UpdateUserGroup(ctx context.Context, userID, groupID string) error {
	return s.execOne(ctx, `update users set group_id = $2, updated_at = now() where id = $1`, userID, groupID)
}

func (s *Store) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return s.execOne(ctx, `update users set password_hash = $2, updated_at = now() where id = $1`, userID, passwordHash)
}

func (s *Store) UpdateUserOverrides(ctx context.Context, userID string, overrides access.PermissionMap) error {
	data, err := marshalPermissions(overrides)
	if err != nil {
		return err
	}
	return s.execOne(ctx, `update users set permission_overrides = $2, updated_at = now() where id = $1`, userID, data)
}

func (s *Store) RecordLogin(ctx context.Context, userID, ip string, at time.Time) error {
	return s.execOne(ctx, `update users set last_login_at = $2, last_login_ip = $3, updated_at = now() where id = $1`,
		userID, at, nullIfEmpty(ip))
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*access.User, error) {
	var (
		u         access.User
		overrides []byte
		display   sql.NullString
		lastIP    sql.NullString
	)
	err := row.Scan(&u.ID, &u.GroupID, &u.Email, &display, &u.PasswordHash, &u.Status, &u.EmailVerified, &u.EmailVerifiedAt,
		&overrides, &u.LastLoginAt, &lastIP, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if display.Valid {
		u.DisplayName = display.String
	}
	if lastIP.Valid {
		u.LastLoginIP = lastIP.String
	}
	u.Overrides = access.PermissionMap{}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &u.Overrides); err != nil {
			return nil, fmt.Errorf("decode overrides: %w", err)
		}
	}
	return &u, nil
}
