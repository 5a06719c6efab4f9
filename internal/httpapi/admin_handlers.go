package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"sitewright.io/internal/access"
)

type createGroupRequest struct {
	Name           string               `json:"name"`
	Slug           string               `json:"slug"`
	HierarchyLevel int                  `json:"hierarchy_level"`
	Permissions    access.PermissionMap `json:"permissions"`
	IsDefault      bool                 `json:"is_default"`
}

type updateGroupRequest struct {
	Name           *string              `json:"name"`
	HierarchyLevel *int                 `json:"hierarchy_level"`
	Permissions    access.PermissionMap `json:"permissions"`
	IsDefault      *bool                `json:"is_default"`
}

type assignGroupRequest struct {
	GroupID string `json:"group_id"`
}

type overridesRequest struct {
	Overrides access.PermissionMap `json:"overrides"`
}

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := a.groups.List(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	case http.MethodPost:
		var req createGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.groups.Create(r.Context(), &access.Group{
			Name:           req.Name,
			Slug:           req.Slug,
			HierarchyLevel: req.HierarchyLevel,
			Permissions:    req.Permissions,
			IsDefault:      req.IsDefault,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/v1/admin/groups/%s", group.ID))
		writeJSON(w, http.StatusCreated, group)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGroupScoped(w http.ResponseWriter, r *http.Request) {
	id := scopedID(r.URL.Path, "/v1/admin/groups/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		group, err := a.groups.Get(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodPatch:
		var req updateGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		group, err := a.groups.Update(r.Context(), id, access.GroupUpdate{
			Name:           req.Name,
			HierarchyLevel: req.HierarchyLevel,
			Permissions:    req.Permissions,
			IsDefault:      req.IsDefault,
		})
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	case http.MethodDelete:
		if err := a.groups.Delete(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	users, err := a.directory.List(r.Context())
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/admin/users/"), "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		user, err := a.directory.Get(r.Context(), userID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}
	if len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch parts[1] {
	case "suspend":
		a.userAction(w, r, userID, "user.suspended", a.directory.Suspend)
	case "restore":
		a.userAction(w, r, userID, "user.restored", a.directory.Restore)
	case "group":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req assignGroupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.AssignGroup(r.Context(), userID, req.GroupID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "group_assigned"})
	case "overrides":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req overridesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.directory.SetOverrides(r.Context(), userID, req.Overrides); err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "overrides_set"})
	case "sessions":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		revoked, err := a.sessions.RevokeUser(r.Context(), userID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userAction(w http.ResponseWriter, r *http.Request, userID, status string, fn func(ctx context.Context, id string) error) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := fn(r.Context(), userID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (a *API) handlePages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pages, err := a.guard.Pages(r.Context())
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
	case http.MethodPost:
		var page access.PageAccess
		if err := decodeJSON(w, r, &page); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.guard.SavePage(r.Context(), &page); err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePageScoped(w http.ResponseWriter, r *http.Request) {
	id := scopedID(r.URL.Path, "/v1/admin/pages/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		page, err := a.guard.Page(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodDelete:
		if err := a.guard.DeletePage(r.Context(), id); err != nil {
			handleAccessError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": access.BuiltinPermissions,
	})
}

func scopedID(path, prefix string) string {
	id := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
