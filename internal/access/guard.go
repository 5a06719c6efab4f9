package access

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// CanAccess evaluates the page ACL for a visitor. First match wins:
//
//  1. an unlocked page admits any visitor
//  2. a locked page requires identity
//  3. the admin tier bypasses everything, including explicit denies
//  4. an explicit deny outranks an explicit allow
//  5. an explicitly allowed user passes
//  6. a locked page with no allowed groups admits any authenticated user
//  7. otherwise membership in an allowed group decides
//
// CanAccess is pure; the caller supplies the visitor's group.
func CanAccess(page *PageAccess, user *User, group *Group) bool {
	if page == nil || !page.Locked {
		return true
	}
	if user == nil {
		return false
	}
	if group != nil && group.HierarchyLevel == AdminTier {
		return true
	}
	if slices.Contains(page.DeniedUsers, user.ID) {
		return false
	}
	if slices.Contains(page.AllowedUsers, user.ID) {
		return true
	}
	if len(page.AllowedGroups) == 0 {
		return true
	}
	return slices.Contains(page.AllowedGroups, user.GroupID)
}

// RedirectURL maps the page's redirect target to a path for denied
// visitors.
func RedirectURL(page *PageAccess) string {
	if page == nil {
		return "/login"
	}
	switch page.Redirect {
	case RedirectHome:
		return "/"
	case RedirectCustom:
		if page.CustomRedirectURL != "" {
			return page.CustomRedirectURL
		}
		return "/login"
	default:
		return "/login"
	}
}

// Guard evaluates page ACLs for stored pages and audits denials.
type Guard struct {
	store    Store
	recorder Recorder
}

// NewGuard constructs a Guard. The recorder may be nil.
func NewGuard(store Store, recorder Recorder) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	return &Guard{store: store, recorder: recorder}, nil
}

// CanAccess loads the page ACL and the visitor's group and evaluates the
// precedence rules. Unknown pages are open: the builder only creates rows
// for pages with access rules.
func (g *Guard) CanAccess(ctx context.Context, pageID string, user *User) (bool, error) {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return false, fmt.Errorf("%w: page_id is required", ErrInvalidInput)
	}
	page, err := g.store.GetPage(ctx, pageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	var group *Group
	if user != nil {
		group, err = g.store.GetGroup(ctx, user.GroupID)
		if err != nil {
			return false, err
		}
	}
	allowed := CanAccess(page, user, group)
	if !allowed && g.recorder != nil {
		entry := AuditEntry{Action: "page.access_denied", Details: map[string]any{"page_id": page.PageID}}
		if user != nil {
			entry.UserID = user.ID
		}
		g.recorder.Record(ctx, entry)
	}
	return allowed, nil
}

// RedirectURL loads the page ACL and maps its redirect target. Unknown
// pages fall back to the login path.
func (g *Guard) RedirectURL(ctx context.Context, pageID string) (string, error) {
	page, err := g.store.GetPage(ctx, strings.TrimSpace(pageID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "/login", nil
		}
		return "", err
	}
	return RedirectURL(page), nil
}

// SavePage validates and upserts a page ACL.
func (g *Guard) SavePage(ctx context.Context, page *PageAccess) error {
	if page == nil {
		return fmt.Errorf("%w: page is required", ErrInvalidInput)
	}
	page.PageID = strings.TrimSpace(page.PageID)
	if page.PageID == "" {
		return fmt.Errorf("%w: page_id is required", ErrInvalidInput)
	}
	switch page.Redirect {
	case "", RedirectLogin, RedirectHome, RedirectCustom:
	default:
		return fmt.Errorf("%w: unsupported redirect %s", ErrInvalidInput, page.Redirect)
	}
	if page.Redirect == "" {
		page.Redirect = RedirectLogin
	}
	return g.store.UpsertPage(ctx, page)
}

// Page returns a stored page ACL.
func (g *Guard) Page(ctx context.Context, pageID string) (*PageAccess, error) {
	return g.store.GetPage(ctx, strings.TrimSpace(pageID))
}

// Pages lists every stored page ACL.
func (g *Guard) Pages(ctx context.Context) ([]*PageAccess, error) {
	return g.store.ListPages(ctx)
}

// DeletePage removes a page ACL; the page becomes open.
func (g *Guard) DeletePage(ctx context.Context, pageID string) error {
	pageID = strings.TrimSpace(pageID)
	if pageID == "" {
		return fmt.Errorf("%w: page_id is required", ErrInvalidInput)
	}
	return g.store.DeletePage(ctx, pageID)
}
