package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sitewright.io/internal/access"
	"sitewright.io/internal/obs"
)

// ReadyProbe checks downstream readiness (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the services the HTTP layer exposes.
type Deps struct {
	Log       zerolog.Logger
	Ready     ReadyProbe
	Version   string
	Sessions  *access.Sessions
	Recovery  *access.Recovery
	Resolver  *access.Resolver
	Guard     *access.Guard
	Groups    *access.Groups
	Directory *access.Directory
	Tokens    *access.ServiceTokens
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	log     zerolog.Logger
	ready   ReadyProbe
	version string

	sessions  *access.Sessions
	recovery  *access.Recovery
	resolver  *access.Resolver
	guard     *access.Guard
	groups    *access.Groups
	directory *access.Directory
	tokens    *access.ServiceTokens

	credentialLimiter *ipLimiter
}

func New(deps Deps) *API {
	a := &API{
		mux:               http.NewServeMux(),
		log:               deps.Log,
		ready:             deps.Ready,
		version:           deps.Version,
		sessions:          deps.Sessions,
		recovery:          deps.Recovery,
		resolver:          deps.Resolver,
		guard:             deps.Guard,
		groups:            deps.Groups,
		directory:         deps.Directory,
		tokens:            deps.Tokens,
		credentialLimiter: newIPLimiter(5, 1),
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// visitor flow; credential endpoints are rate limited per IP
	a.mux.HandleFunc("/v1/register", a.limited(a.handleRegister))
	a.mux.HandleFunc("/v1/register/verify", a.handleRegisterVerify)
	a.mux.HandleFunc("/v1/login", a.limited(a.handleLogin))
	a.mux.HandleFunc("/v1/logout", a.withSession(a.handleLogout))
	a.mux.HandleFunc("/v1/me", a.withSession(a.handleMe))
	a.mux.HandleFunc("/v1/questions", a.handleQuestions)

	// credential recovery
	a.mux.HandleFunc("/v1/reset", a.limited(a.handleResetRequest))
	a.mux.HandleFunc("/v1/reset/email", a.handleResetEmail)
	a.mux.HandleFunc("/v1/reset/questions", a.limited(a.handleResetQuestions))
	a.mux.HandleFunc("/v1/reset/password", a.handleResetPassword)

	// decision endpoints for the renderer and feature scripts
	a.mux.HandleFunc("/v1/access/resolve", a.withServiceToken("access.read", a.handleResolve))
	a.mux.HandleFunc("/v1/access/page", a.withServiceToken("access.read", a.handlePageDecision))

	// administration
	a.mux.HandleFunc("/v1/admin/groups", a.withAdmin(a.handleGroups))
	a.mux.HandleFunc("/v1/admin/groups/", a.withAdmin(a.handleGroupScoped))
	a.mux.HandleFunc("/v1/admin/users", a.withAdmin(a.handleUsers))
	a.mux.HandleFunc("/v1/admin/users/", a.withAdmin(a.handleUserScoped))
	a.mux.HandleFunc("/v1/admin/pages", a.withAdmin(a.handlePages))
	a.mux.HandleFunc("/v1/admin/pages/", a.withAdmin(a.handlePageScoped))
	a.mux.HandleFunc("/v1/admin/permissions", a.withAdmin(a.handlePermissions))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Close releases background resources held by the API.
func (a *API) Close() {
	a.credentialLimiter.close()
}

// Handler returns the wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = a.Logging(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RequestID(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sitewright-uas",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sitewright-uas",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromRequest(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, access.ErrNotFound)
}

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidInput), errors.Is(err, access.ErrDuplicateAnswer):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrInvalidCredentials), errors.Is(err, access.ErrTokenInvalid), errors.Is(err, access.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, access.ErrAccountInactive), errors.Is(err, access.ErrPermissionDenied),
		errors.Is(err, access.ErrNotFullyVerified), errors.Is(err, access.ErrInvalidAnswers):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}
