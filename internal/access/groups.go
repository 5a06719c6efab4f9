package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sitewright.io/internal/ids"
)

// Groups manages the hierarchical group registry.
type Groups struct {
	store    Store
	recorder Recorder
}

// NewGroups constructs the group registry. The recorder may be nil.
func NewGroups(store Store, recorder Recorder) (*Groups, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Groups{store: store, recorder: recorder}, nil
}

// systemGroups are seeded at tenant provisioning. The Banned group carries
// an empty permission map: membership in it denies everything short of an
// explicit per-user override.
func systemGroups() []*Group {
	return []*Group{
		{Name: "Admins", Slug: SlugAdmins, HierarchyLevel: AdminTier, Permissions: PermissionMap{Wildcard: true}, IsSystem: true},
		{Name: "Moderators", Slug: SlugModerators, HierarchyLevel: 2, Permissions: PermissionMap{"page.view_locked": true}, IsSystem: true},
		{Name: "Members", Slug: SlugMembers, HierarchyLevel: 3, Permissions: PermissionMap{}, IsDefault: true, IsSystem: true},
		{Name: "Banned", Slug: SlugBanned, HierarchyLevel: 999, Permissions: PermissionMap{}, IsSystem: true},
	}
}

// EnsureSystemGroups creates any missing system group. Existing groups are
// left untouched so tenant customizations survive restarts.
func (g *Groups) EnsureSystemGroups(ctx context.Context) error {
	for _, sys := range systemGroups() {
		_, err := g.store.GetGroupBySlug(ctx, sys.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		sys.ID = ids.New()
		if err := g.store.CreateGroup(ctx, sys); err != nil && !errors.Is(err, ErrConflict) {
			return fmt.Errorf("seed group %s: %w", sys.Slug, err)
		}
	}
	return nil
}

// Create validates and persists a new group. Making the new group the
// default unsets the previous default atomically in the store.
func (g *Groups) Create(ctx context.Context, group *Group) (*Group, error) {
	if group == nil {
		return nil, fmt.Errorf("%w: group is required", ErrInvalidInput)
	}
	group.Name = strings.TrimSpace(group.Name)
	group.Slug = slugify(group.Slug, group.Name)
	if group.Name == "" || group.Slug == "" {
		return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
	}
	if group.HierarchyLevel < 1 {
		return nil, fmt.Errorf("%w: hierarchy level must be positive", ErrInvalidInput)
	}
	if group.Permissions == nil {
		group.Permissions = PermissionMap{}
	}
	group.ID = ids.New()
	group.IsSystem = false
	if err := g.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	g.record(ctx, "group.created", map[string]any{"group_id": group.ID, "slug": group.Slug})
	return group, nil
}

// Get returns a group by id.
func (g *Groups) Get(ctx context.Context, id string) (*Group, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
	}
	return g.store.GetGroup(ctx, id)
}

// BySlug returns a group by its unique slug.
func (g *Groups) BySlug(ctx context.Context, slug string) (*Group, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return nil, fmt.Errorf("%w: slug is required", ErrInvalidInput)
	}
	return g.store.GetGroupBySlug(ctx, slug)
}

// List returns every group ordered by hierarchy.
func (g *Groups) List(ctx context.Context) ([]*Group, error) {
	return g.store.ListGroups(ctx)
}

// GroupUpdate carries optional group mutations.
type GroupUpdate struct {
	Name           *string
	HierarchyLevel *int
	Permissions    PermissionMap
	IsDefault      *bool
}

// Update applies the mutation. Clearing is_default on the current default
// is rejected: exactly one group must hold the flag at all times.
func (g *Groups) Update(ctx context.Context, id string, upd GroupUpdate) (*Group, error) {
	group, err := g.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: group name is required", ErrInvalidInput)
		}
		group.Name = name
	}
	if upd.HierarchyLevel != nil {
		if *upd.HierarchyLevel < 1 {
			return nil, fmt.Errorf("%w: hierarchy level must be positive", ErrInvalidInput)
		}
		group.HierarchyLevel = *upd.HierarchyLevel
	}
	if upd.Permissions != nil {
		if group.Slug == SlugBanned && len(upd.Permissions) > 0 {
			return nil, fmt.Errorf("%w: the banned group cannot carry permissions", ErrInvalidInput)
		}
		group.Permissions = upd.Permissions
	}
	if upd.IsDefault != nil {
		if group.IsDefault && !*upd.IsDefault {
			return nil, fmt.Errorf("%w: some group must remain the default", ErrInvalidInput)
		}
		group.IsDefault = *upd.IsDefault
	}
	if err := g.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	g.record(ctx, "group.updated", map[string]any{"group_id": group.ID})
	return group, nil
}

// Delete removes a group. System groups and groups that still have members
// are protected: the caller gets ErrConflict, never a cascade.
func (g *Groups) Delete(ctx context.Context, id string) error {
	group, err := g.Get(ctx, id)
	if err != nil {
		return err
	}
	if group.IsSystem {
		return fmt.Errorf("%w: system groups cannot be deleted", ErrConflict)
	}
	count, err := g.store.CountGroupMembers(ctx, group.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: group has %d members", ErrConflict, count)
	}
	if err := g.store.DeleteGroup(ctx, group.ID); err != nil {
		return err
	}
	g.record(ctx, "group.deleted", map[string]any{"group_id": group.ID, "slug": group.Slug})
	return nil
}

func (g *Groups) record(ctx context.Context, action string, details map[string]any) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(ctx, AuditEntry{Action: action, Details: details})
}

func slugify(slug, name string) string {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		slug = strings.TrimSpace(strings.ToLower(name))
	}
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
