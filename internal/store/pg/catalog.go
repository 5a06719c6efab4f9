package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sitewright.io/internal/access"
)

func (s *Store) EnsurePermissions(ctx context.Context, defs []access.PermissionDefinition) error {
	for _, def := range defs {
		if _, err := s.db.ExecContext(ctx, `
			insert into permission_definitions (key, category, feature, name, description)
			values ($1, $2, $3, $4, $5)
			on conflict (key) do nothing
		`, def.Key, def.Category, nullIfEmpty(def.Feature), def.Name, def.Description); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]access.PermissionDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, category, feature, name, description
		from permission_definitions
		order by category, key
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var defs []access.PermissionDefinition
	for rows.Next() {
		var (
			def     access.PermissionDefinition
			feature sql.NullString
		)
		if err := rows.Scan(&def.Key, &def.Category, &feature, &def.Name, &def.Description); err != nil {
			return nil, err
		}
		if feature.Valid {
			def.Feature = feature.String
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e *access.AuditEntry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		data, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = data
	}
	_, err := s.db.ExecContext(ctx, `
		insert into activity_log (id, user_id, action, ip, user_agent, details, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, nullIfEmpty(e.UserID), e.Action, nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), details, e.CreatedAt)
	return mapError(err)
}
