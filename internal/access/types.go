package access

import "time"

// Wildcard is the group permission key that grants every permission.
const Wildcard = "*"

// Reserved group slugs seeded at tenant provisioning.
const (
	SlugAdmins     = "admins"
	SlugModerators = "moderators"
	SlugMembers    = "members"
	SlugBanned     = "banned"
)

// AdminTier is the hierarchy level that bypasses every page access check.
const AdminTier = 1

// PermissionMap maps permission keys to explicit grants or denials.
type PermissionMap map[string]bool

// Group is a hierarchical permission tier. Level 1 is the reserved
// super-admin tier; higher numbers carry less privilege.
type Group struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Slug           string        `json:"slug"`
	HierarchyLevel int           `json:"hierarchy_level"`
	Permissions    PermissionMap `json:"permissions"`
	IsDefault      bool          `json:"is_default"`
	IsSystem       bool          `json:"is_system"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// User account statuses.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

// User is a tenant site member. Exactly one group at all times.
type User struct {
	ID              string        `json:"id"`
	GroupID         string        `json:"group_id"`
	Email           string        `json:"email"`
	DisplayName     string        `json:"display_name,omitempty"`
	PasswordHash    string        `json:"-"`
	Status          string        `json:"status"`
	EmailVerified   bool          `json:"email_verified"`
	EmailVerifiedAt *time.Time    `json:"email_verified_at,omitempty"`
	Overrides       PermissionMap `json:"overrides,omitempty"`
	LastLoginAt     *time.Time    `json:"last_login_at,omitempty"`
	LastLoginIP     string        `json:"last_login_ip,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IsActive reports whether the account may authenticate. Both conditions
// are required: a verified address on a pending account is not enough, nor
// is an active status with an unverified address.
func (u *User) IsActive() bool {
	return u != nil && u.Status == StatusActive && u.EmailVerified
}

// Session is an opaque server-side login token.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Token          string    `json:"-"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RememberMe     bool      `json:"remember_me"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registration is the pending-registration payload held by an
// EmailVerification until the address is confirmed. The password is hashed
// before the payload is persisted.
type Registration struct {
	Email        string         `json:"email"`
	PasswordHash string         `json:"password_hash"`
	DisplayName  string         `json:"display_name,omitempty"`
	Answers      []AnswerRecord `json:"answers,omitempty"`
}

// AnswerRecord is a hashed security answer captured at registration.
type AnswerRecord struct {
	QuestionID string `json:"question_id"`
	AnswerHash string `json:"answer_hash"`
}

// EmailVerification represents a user-to-be: the account is only created
// once the token is consumed.
type EmailVerification struct {
	Email        string       `json:"email"`
	Token        string       `json:"-"`
	Registration Registration `json:"registration"`
	ExpiresAt    time.Time    `json:"expires_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PasswordReset is a two-flag gate: both flags must independently become
// true before a new password may be set.
type PasswordReset struct {
	UserID            string    `json:"user_id"`
	Token             string    `json:"-"`
	EmailVerified     bool      `json:"email_verified"`
	QuestionsVerified bool      `json:"questions_verified"`
	ExpiresAt         time.Time `json:"expires_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// IsFullyVerified reports whether both recovery factors have passed.
func (r PasswordReset) IsFullyVerified() bool {
	return r.EmailVerified && r.QuestionsVerified
}

// SecurityQuestion belongs to the tenant-wide catalogue.
type SecurityQuestion struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Position int    `json:"position"`
	Active   bool   `json:"active"`
}

// UserSecurityAnswer stores one hashed answer per (user, question) pair.
type UserSecurityAnswer struct {
	UserID     string `json:"user_id"`
	QuestionID string `json:"question_id"`
	AnswerHash string `json:"-"`
}

// Answer is a caller-supplied recovery answer awaiting verification.
type Answer struct {
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// Redirect targets for locked pages.
const (
	RedirectLogin  = "login"
	RedirectHome   = "home"
	RedirectCustom = "custom"
)

// PageAccess is the per-logical-page ACL. PageID is an opaque identifier
// owned by the page builder, not a foreign key into content tables.
type PageAccess struct {
	PageID            string    `json:"page_id"`
	PageName          string    `json:"page_name"`
	Locked            bool      `json:"is_locked"`
	AllowedGroups     []string  `json:"allowed_groups"`
	AllowedUsers      []string  `json:"allowed_users"`
	DeniedUsers       []string  `json:"denied_users"`
	Redirect          string    `json:"redirect_to"`
	CustomRedirectURL string    `json:"custom_redirect_url,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PermissionDefinition describes a known permission key. Feature is empty
// for core keys and carries the installable feature slug otherwise.
type PermissionDefinition struct {
	Key         string `json:"key"`
	Category    string `json:"category"`
	Feature     string `json:"feature,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// AuditEntry is an append-only record of a security-relevant action.
// UserID is empty for unauthenticated actors.
type AuditEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Principal is a user with its group resolved, ready for authorization
// decisions without further lookups.
type Principal struct {
	User  *User
	Group *Group
}

// Can applies the permission precedence rules for the principal.
func (p Principal) Can(key string) bool {
	if p.Group == nil {
		return false
	}
	return Resolve(p.User, p.Group, key)
}

// IsAdmin reports whether the principal sits in the reserved admin tier.
func (p Principal) IsAdmin() bool {
	return p.Group != nil && p.Group.HierarchyLevel == AdminTier
}
