package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sitewright.io/internal/access"
)

const sessionColumns = `id, user_id, token, ip_address, user_agent, remember_me, expires_at, last_activity_at, created_at`

func (s *Store) CreateSession(ctx context.Context, sess *access.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token, ip_address, user_agent, remember_me, expires_at, last_activity_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, sess.ID, sess.UserID, sess.Token, nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent),
		sess.RememberMe, sess.ExpiresAt, sess.LastActivityAt, sess.CreatedAt)
	return mapError(err)
}

func (s *Store) GetSessionByToken(ctx context.Context, token string) (*access.Session, error) {
	row := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where token = $1`, token)
	return scanSession(row)
}

func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	// Deliberately leaves expires_at alone: expiry is absolute.
	return s.execOne(ctx, `update sessions set last_activity_at = $2 where id = $1`, id, at)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.execOne(ctx, `delete from sessions where id = $1`, id)
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*access.Session, error) {
	var (
		sess access.Session
		ip   sql.NullString
		ua   sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &ip, &ua, &sess.RememberMe,
		&sess.ExpiresAt, &sess.LastActivityAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if ip.Valid {
		sess.IPAddress = ip.String
	}
	if ua.Valid {
		sess.UserAgent = ua.String
	}
	return &sess, nil
}
