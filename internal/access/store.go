package access

import (
	"context"
	"time"
)

// Store aggregates the persistence operations required by the access
// subsystem. Implementations must enforce the uniqueness constraints on
// email, group slug, page_id and every token column, and must make
// single-row create/update/delete operations atomic.
type Store interface {
	GroupStore
	UserStore
	SessionStore
	VerificationStore
	ResetStore
	QuestionStore
	PageStore
	PermissionStore
	AuditStore
}

// GroupStore manages groups.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, id string) (*Group, error)
	GetGroupBySlug(ctx context.Context, slug string) (*Group, error)
	// DefaultGroup returns the single group flagged as default.
	DefaultGroup(ctx context.Context) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	// UpdateGroup persists the group. When g.IsDefault is true the previous
	// default must be unset in the same transaction.
	UpdateGroup(ctx context.Context, g *Group) error
	// DeleteGroup fails with ErrConflict when the group is referenced by
	// any user; system groups are rejected before the store is reached.
	DeleteGroup(ctx context.Context, id string) error
	CountGroupMembers(ctx context.Context, groupID string) (int, error)
}

// UserStore manages user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	UpdateUserStatus(ctx context.Context, userID, status string) error
	UpdateUserGroup(ctx context.Context, userID, groupID string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	UpdateUserOverrides(ctx context.Context, userID string, overrides PermissionMap) error
	RecordLogin(ctx context.Context, userID, ip string, at time.Time) error
}

// SessionStore manages login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByToken(ctx context.Context, token string) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteSession(ctx context.Context, id string) error
	DeleteSessionsByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// VerificationStore manages pending registrations.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *EmailVerification) error
	// ConsumeVerification atomically deletes the row and returns it, so two
	// concurrent verifications of the same token cannot both succeed.
	ConsumeVerification(ctx context.Context, token string) (*EmailVerification, error)
	DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error)
}

// ResetStore manages password reset gates.
type ResetStore interface {
	CreateReset(ctx context.Context, r *PasswordReset) error
	GetResetByToken(ctx context.Context, token string) (*PasswordReset, error)
	MarkResetEmailVerified(ctx context.Context, token string) error
	MarkResetQuestionsVerified(ctx context.Context, token string) error
	// ConsumeReset atomically deletes the row and returns it.
	ConsumeReset(ctx context.Context, token string) (*PasswordReset, error)
	DeleteResetsByUser(ctx context.Context, userID string) (int64, error)
	DeleteExpiredResets(ctx context.Context, before time.Time) (int64, error)
}

// QuestionStore manages the security question catalogue and per-user
// answers.
type QuestionStore interface {
	ListQuestions(ctx context.Context, activeOnly bool) ([]SecurityQuestion, error)
	EnsureQuestions(ctx context.Context, questions []SecurityQuestion) error
	SaveAnswers(ctx context.Context, userID string, answers []UserSecurityAnswer) error
	AnswersForUser(ctx context.Context, userID string) ([]UserSecurityAnswer, error)
}

// PageStore manages per-page ACLs keyed by the builder's logical page id.
type PageStore interface {
	UpsertPage(ctx context.Context, p *PageAccess) error
	GetPage(ctx context.Context, pageID string) (*PageAccess, error)
	ListPages(ctx context.Context) ([]*PageAccess, error)
	DeletePage(ctx context.Context, pageID string) error
}

// PermissionStore manages the permission key catalogue.
type PermissionStore interface {
	EnsurePermissions(ctx context.Context, defs []PermissionDefinition) error
	ListPermissions(ctx context.Context) ([]PermissionDefinition, error)
}

// AuditStore appends immutable activity entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e *AuditEntry) error
}
