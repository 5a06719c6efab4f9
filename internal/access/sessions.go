package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitewright.io/internal/ids"
)

// Sessions manages login session lifecycle. Expiry is absolute from
// creation; Touch records activity but never extends a session.
type Sessions struct {
	store    Store
	settings *Settings
	recorder Recorder
	now      func() time.Time
}

// SessionOption configures Sessions behavior.
type SessionOption func(*Sessions)

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(fn func() time.Time) SessionOption {
	return func(s *Sessions) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSessions constructs the session manager. The recorder may be nil.
func NewSessions(store Store, settings *Settings, recorder Recorder, opts ...SessionOption) (*Sessions, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if settings == nil {
		settings = DefaultSettings()
	}
	s := &Sessions{store: store, settings: settings, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login authenticates the credentials and issues a session. Every failure
// collapses to ErrInvalidCredentials so callers cannot probe which part
// was wrong, but the audit trail keeps the distinction.
func (s *Sessions) Login(ctx context.Context, email, password string, remember bool, ip, userAgent string) (*Session, *User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.record(ctx, "login.failed", "", ip, userAgent, map[string]any{"email": email, "reason": "unknown_email"})
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.record(ctx, "login.failed", user.ID, ip, userAgent, map[string]any{"reason": "bad_password"})
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		s.record(ctx, "login.failed", user.ID, ip, userAgent, map[string]any{"reason": "inactive"})
		return nil, nil, ErrAccountInactive
	}
	session, err := s.Create(ctx, user, remember, ip, userAgent)
	if err != nil {
		return nil, nil, err
	}
	now := s.now().UTC()
	if err := s.store.RecordLogin(ctx, user.ID, ip, now); err != nil {
		return nil, nil, err
	}
	s.record(ctx, "login.succeeded", user.ID, ip, userAgent, nil)
	return session, user, nil
}

// Create issues a session for an already-authenticated user. The token is
// 256 bits of crypto randomness, hex encoded; an insert collision triggers
// a bounded regenerate-and-retry.
func (s *Sessions) Create(ctx context.Context, user *User, remember bool, ip, userAgent string) (*Session, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	session := &Session{
		ID:             ids.New(),
		UserID:         user.ID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		RememberMe:     remember,
		ExpiresAt:      now.Add(s.settings.sessionTTL(remember)),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	token, err := insertWithToken(ctx, func(ctx context.Context, token string) error {
		session.Token = token
		return s.store.CreateSession(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	session.Token = token
	return session, nil
}

// Validate resolves a session token to its session. Order matters:
// unknown tokens are invalid, known-but-expired tokens are expired, and a
// session whose owner is no longer active is rejected even before expiry.
func (s *Sessions) Validate(ctx context.Context, token string) (*Session, *User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, ErrTokenInvalid
	}
	session, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrTokenInvalid
		}
		return nil, nil, err
	}
	if !session.ExpiresAt.After(s.now().UTC()) {
		return nil, nil, ErrTokenExpired
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrTokenInvalid
		}
		return nil, nil, err
	}
	if !user.IsActive() {
		return nil, nil, ErrAccountInactive
	}
	return session, user, nil
}

// Touch records activity on the session. It deliberately leaves expires_at
// alone: idle and absolute timeouts are separate concerns and only the
// absolute one is modeled here.
func (s *Sessions) Touch(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("%w: session is required", ErrInvalidInput)
	}
	return s.store.TouchSession(ctx, session.ID, s.now().UTC())
}

// Logout deletes the session for the given token. Unknown tokens are not
// an error: the end state is the same.
func (s *Sessions) Logout(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	session, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteSession(ctx, session.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.record(ctx, "logout", session.UserID, "", "", nil)
	return nil
}

// RevokeUser deletes every session belonging to the user, e.g. on
// suspension or after a password reset.
func (s *Sessions) RevokeUser(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.DeleteSessionsByUser(ctx, userID)
}

// SweepExpired deletes every expired session and returns the count. It may
// run concurrently with Validate; a session read as valid microseconds
// before the sweep is an accepted leakage window.
func (s *Sessions) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now().UTC())
}

func (s *Sessions) record(ctx context.Context, action, userID, ip, userAgent string, details map[string]any) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, AuditEntry{Action: action, UserID: userID, IP: ip, UserAgent: userAgent, Details: details})
}
