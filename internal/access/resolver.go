package access

import (
	"context"
	"fmt"
	"strings"
)

// Resolve decides whether user may perform the action identified by key.
// Precedence, in strict order: unauthenticated principals have no
// permissions; a per-user override applies verbatim, even to revoke a
// permission the group grants; a true group wildcard grants everything;
// the group entry applies verbatim; everything else is denied.
//
// Resolve is pure and safe to call many times per request.
func Resolve(user *User, group *Group, key string) bool {
	if user == nil {
		return false
	}
	if v, ok := user.Overrides[key]; ok {
		return v
	}
	if group == nil {
		return false
	}
	if group.Permissions[Wildcard] {
		return true
	}
	if v, ok := group.Permissions[key]; ok {
		return v
	}
	return false
}

// Resolver answers permission queries for stored users, loading the
// group the decision depends on.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Resolver{store: store}, nil
}

// Resolve loads the user's group and applies the precedence rules.
// A nil user short-circuits to false without touching the store.
func (r *Resolver) Resolve(ctx context.Context, user *User, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("%w: permission key is required", ErrInvalidInput)
	}
	if user == nil {
		return false, nil
	}
	// Overrides win regardless of the group, so skip the lookup when
	// one is present.
	if v, ok := user.Overrides[key]; ok {
		return v, nil
	}
	group, err := r.store.GetGroup(ctx, user.GroupID)
	if err != nil {
		return false, err
	}
	return Resolve(user, group, key), nil
}

// Principal loads the user and its group in one call for callers that make
// several decisions per request.
func (r *Resolver) Principal(ctx context.Context, userID string) (Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Principal{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	group, err := r.store.GetGroup(ctx, user.GroupID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Group: group}, nil
}

// Require loads the principal and ensures it holds the permission.
func (r *Resolver) Require(ctx context.Context, userID, key string) (Principal, error) {
	principal, err := r.Principal(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if !principal.Can(key) {
		return Principal{}, ErrPermissionDenied
	}
	return principal, nil
}
