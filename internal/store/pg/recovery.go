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

// --- email verifications ---

func (s *Store) CreateVerification(ctx context.Context, v *access.EmailVerification) error {
	payload, err := json.Marshal(v.Registration)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into email_verifications (email, token, registration_data, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, v.Email, v.Token, payload, v.ExpiresAt, v.CreatedAt)
	return mapError(err)
}

// ConsumeVerification deletes the row and returns it in one statement, so
// concurrent verifications of the same token cannot both succeed.
func (s *Store) ConsumeVerification(ctx context.Context, token string) (*access.EmailVerification, error) {
	var (
		v       access.EmailVerification
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `
		delete from email_verifications where token = $1
		returning email, token, registration_data, expires_at, created_at
	`, token).Scan(&v.Email, &v.Token, &payload, &v.ExpiresAt, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &v.Registration); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	return &v, nil
}

func (s *Store) DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from email_verifications where expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// --- password resets ---

const resetColumns = `user_id, token, email_verified, questions_verified, expires_at, created_at`

func (s *Store) CreateReset(ctx context.Context, r *access.PasswordReset) error {
	_, err := s.db.ExecContext(ctx, `
		insert into password_resets (user_id, token, email_verified, questions_verified, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, r.UserID, r.Token, r.EmailVerified, r.QuestionsVerified, r.ExpiresAt, r.CreatedAt)
	return mapError(err)
}

func (s *Store) GetResetByToken(ctx context.Context, token string) (*access.PasswordReset, error) {
	row := s.db.QueryRowContext(ctx, `select `+resetColumns+` from password_resets where token = $1`, token)
	return scanReset(row)
}

func (s *Store) MarkResetEmailVerified(ctx context.Context, token string) error {
	return s.execOne(ctx, `update password_resets set email_verified = true where token = $1`, token)
}

func (s *Store) MarkResetQuestionsVerified(ctx context.Context, token string) error {
	return s.execOne(ctx, `update password_resets set questions_verified = true where token = $1`, token)
}

func (s *Store) ConsumeReset(ctx context.Context, token string) (*access.PasswordReset, error) {
	row := s.db.QueryRowContext(ctx, `
		delete from password_resets where token = $1
		returning `+resetColumns, token)
	return scanReset(row)
}

func (s *Store) DeleteResetsByUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from password_resets where user_id = $1`, userID)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredResets(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from password_resets where expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func scanReset(row rowScanner) (*access.PasswordReset, error) {
	var r access.PasswordReset
	err := row.Scan(&r.UserID, &r.Token, &r.EmailVerified, &r.QuestionsVerified, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// --- security questions & answers ---

func (s *Store) ListQuestions(ctx context.Context, activeOnly bool) ([]access.SecurityQuestion, error) {
	query := `select id, question, position, active from security_questions order by position`
	if activeOnly {
		query = `select id, question, position, active from security_questions where active order by position`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var questions []access.SecurityQuestion
	for rows.Next() {
		var q access.SecurityQuestion
		if err := rows.Scan(&q.ID, &q.Question, &q.Position, &q.Active); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) EnsureQuestions(ctx context.Context, questions []access.SecurityQuestion) error {
	for _, q := range questions {
		if _, err := s.db.ExecContext(ctx, `
			insert into security_questions (id, question, position, active)
			values ($1, $2, $3, $4)
			on conflict (id) do nothing
		`, q.ID, q.Question, q.Position, q.Active); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) SaveAnswers(ctx context.Context, userID string, answers []access.UserSecurityAnswer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_security_answers where user_id = $1`, userID); err != nil {
		return mapError(err)
	}
	for _, a := range answers {
		if _, err := tx.ExecContext(ctx, `
			insert into user_security_answers (user_id, question_id, answer_hash)
			values ($1, $2, $3)
		`, userID, a.QuestionID, a.AnswerHash); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) AnswersForUser(ctx context.Context, userID string) ([]access.UserSecurityAnswer, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, question_id, answer_hash from user_security_answers where user_id = $1
	`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var answers []access.UserSecurityAnswer
	for rows.Next() {
		var a access.UserSecurityAnswer
		if err := rows.Scan(&a.UserID, &a.QuestionID, &a.AnswerHash); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
