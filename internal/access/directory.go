package access

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Directory manages user accounts and their status machine:
// pending → active → suspended → active. An account never returns to
// pending, and suspension replaces deletion so the audit trail survives.
type Directory struct {
	store    Store
	recorder Recorder
	now      func() time.Time
}

// DirectoryOption configures Directory behavior.
type DirectoryOption func(*Directory)

// WithDirectoryClock overrides the time source (useful for tests).
func WithDirectoryClock(fn func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if fn != nil {
			d.now = fn
		}
	}
}

// NewDirectory constructs the user directory. The recorder may be nil.
func NewDirectory(store Store, recorder Recorder, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	d := &Directory{store: store, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Get returns a user by id.
func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return d.store.GetUser(ctx, id)
}

// ByEmail returns a user by its unique, lower-cased email.
func (d *Directory) ByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return d.store.GetUserByEmail(ctx, email)
}

// List returns every user.
func (d *Directory) List(ctx context.Context) ([]*User, error) {
	return d.store.ListUsers(ctx)
}

// IsBanned reports whether the user is locked out. Each check is
// independently sufficient: banning works either per user (suspension) or
// by reassignment into the Banned group.
func (d *Directory) IsBanned(ctx context.Context, user *User) (bool, error) {
	if user == nil {
		return false, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if user.Status == StatusSuspended {
		return true, nil
	}
	group, err := d.store.GetGroup(ctx, user.GroupID)
	if err != nil {
		return false, err
	}
	return group.Slug == SlugBanned, nil
}

// Suspend moves an account to suspended. Already-suspended accounts are
// left alone. The user's sessions are the session manager's concern.
func (d *Directory) Suspend(ctx context.Context, userID string) error {
	user, err := d.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == StatusSuspended {
		return nil
	}
	if err := d.store.UpdateUserStatus(ctx, user.ID, StatusSuspended); err != nil {
		return err
	}
	d.record(ctx, "user.suspended", user.ID, nil)
	return nil
}

// Restore reactivates a suspended account. Pending accounts stay pending:
// only email verification activates them, and nothing ever reverts an
// account to pending.
func (d *Directory) Restore(ctx context.Context, userID string) error {
	user, err := d.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status != StatusSuspended {
		return fmt.Errorf("%w: user is not suspended", ErrInvalidInput)
	}
	if err := d.store.UpdateUserStatus(ctx, user.ID, StatusActive); err != nil {
		return err
	}
	d.record(ctx, "user.restored", user.ID, nil)
	return nil
}

// AssignGroup moves the user into another group.
func (d *Directory) AssignGroup(ctx context.Context, userID, groupID string) error {
	userID = strings.TrimSpace(userID)
	groupID = strings.TrimSpace(groupID)
	if userID == "" || groupID == "" {
		return fmt.Errorf("%w: user_id and group_id are required", ErrInvalidInput)
	}
	group, err := d.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := d.store.UpdateUserGroup(ctx, userID, group.ID); err != nil {
		return err
	}
	d.record(ctx, "user.group_changed", userID, map[string]any{"group_id": group.ID, "slug": group.Slug})
	return nil
}

// SetOverrides replaces the user's per-user permission overrides.
func (d *Directory) SetOverrides(ctx context.Context, userID string, overrides PermissionMap) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if overrides == nil {
		overrides = PermissionMap{}
	}
	if err := d.store.UpdateUserOverrides(ctx, userID, overrides); err != nil {
		return err
	}
	d.record(ctx, "user.overrides_changed", userID, map[string]any{"count": len(overrides)})
	return nil
}

// RecordLogin stamps the last successful login.
func (d *Directory) RecordLogin(ctx context.Context, userID, ip string) error {
	return d.store.RecordLogin(ctx, userID, ip, d.now().UTC())
}

func (d *Directory) record(ctx context.Context, action, userID string, details map[string]any) {
	if d.recorder == nil {
		return
	}
	d.recorder.Record(ctx, AuditEntry{Action: action, UserID: userID, Details: details})
}

// NormalizeEmail lower-cases and trims an address for lookups and storage.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// ValidEmail is the minimal shape check applied before storage; real
// verification happens by delivering the token.
func ValidEmail(email string) bool {
	email = NormalizeEmail(email)
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}
