// Package audit is the append-only activity trail behind every
// security-relevant decision: failed logins, page denials, bans, recovery
// attempts. Entries are never mutated or deleted by application logic.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sitewright.io/internal/access"
	"sitewright.io/internal/ids"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context so entries
// written deeper in the call chain can be correlated.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id, if one was attached.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder persists audit entries and mirrors them to the log. It is
// fire-and-forget: persistence failures are logged, never propagated, so
// an audit outage cannot take the login path down with it.
type Recorder struct {
	store access.AuditStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewRecorder builds a Recorder. A nil store degrades to log-only.
func NewRecorder(store access.AuditStore, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log, now: time.Now}
}

// Record implements access.Recorder.
func (r *Recorder) Record(ctx context.Context, entry access.AuditEntry) {
	if r == nil {
		return
	}
	if entry.Action == "" {
		return
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.now().UTC()
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		if entry.Details == nil {
			entry.Details = map[string]any{}
		}
		entry.Details["request_id"] = rid
	}

	event := r.log.Info().
		Str("type", "audit").
		Str("action", entry.Action).
		Time("ts", entry.CreatedAt)
	if entry.UserID != "" {
		event = event.Str("user_id", entry.UserID)
	}
	if entry.IP != "" {
		event = event.Str("ip", entry.IP)
	}
	if len(entry.Details) > 0 {
		event = event.Interface("details", entry.Details)
	}
	event.Msg("activity")

	if r.store == nil {
		return
	}
	if err := r.store.AppendAudit(ctx, &entry); err != nil {
		r.log.Error().Err(err).Str("action", entry.Action).Msg("audit append failed")
	}
}
