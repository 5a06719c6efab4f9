package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"sitewright.io/internal/access"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "uas_session"
)

// withSession authenticates the request from the session cookie or a
// bearer token, validates it, and installs the principal and session
// into the request context.
func (a *API) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing session token")
			return
		}
		session, user, err := a.sessions.Validate(r.Context(), token)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		principal, err := a.resolver.Principal(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		_ = a.sessions.Touch(r.Context(), session)
		ctx := access.ContextWithPrincipal(r.Context(), principal)
		ctx = access.ContextWithSession(ctx, session)
		next(w, r.WithContext(ctx))
	}
}

// withAdmin is withSession plus the admin permission gate.
func (a *API) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return a.withSession(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := access.PrincipalFromContext(r.Context())
		if !ok || !principal.Can(access.PermAdminAccess) {
			writeError(w, r, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}

// withServiceToken guards server-to-server decision endpoints with a
// signed service token carrying the given scope.
func (a *API) withServiceToken(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.tokens == nil {
			writeError(w, r, http.StatusServiceUnavailable, "service tokens not configured")
			return
		}
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.Verify(raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid service token")
			return
		}
		if !claims.HasScope(scope) {
			writeError(w, r, http.StatusForbidden, "insufficient scope")
			return
		}
		next(w, r)
	}
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return ""
	}
	return token
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
