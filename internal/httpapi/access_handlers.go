package httpapi

import (
	"net/http"

	"sitewright.io/internal/access"
	"sitewright.io/internal/obs"
)

type resolveRequest struct {
	UserID     string `json:"user_id"`
	Permission string `json:"permission"`
}

type pageDecisionRequest struct {
	UserID string `json:"user_id"`
	PageID string `json:"page_id"`
}

// handleResolve answers a single permission question for the renderer.
// An empty user_id means the anonymous visitor.
func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permission == "" {
		writeError(w, r, http.StatusBadRequest, "permission is required")
		return
	}
	var user *access.User
	if req.UserID != "" {
		u, err := a.directory.Get(r.Context(), req.UserID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		user = u
	}
	granted, err := a.resolver.Resolve(r.Context(), user, req.Permission)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permission": req.Permission,
		"granted":    granted,
	})
}

// handlePageDecision answers whether a visitor may open a page, and where
// to send them when they may not.
func (a *API) handlePageDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req pageDecisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.PageID == "" {
		writeError(w, r, http.StatusBadRequest, "page_id is required")
		return
	}
	var user *access.User
	if req.UserID != "" {
		u, err := a.directory.Get(r.Context(), req.UserID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		user = u
	}
	allowed, err := a.guard.CanAccess(r.Context(), req.PageID, user)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := map[string]any{
		"page_id": req.PageID,
		"allowed": allowed,
	}
	if !allowed {
		obs.PageDenialsTotal.Inc()
		redirect, err := a.guard.RedirectURL(r.Context(), req.PageID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		resp["redirect_to"] = redirect
	}
	writeJSON(w, http.StatusOK, resp)
}
