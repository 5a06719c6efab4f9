package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"sitewright.io/internal/access"
)

const groupColumns = `id, name, slug, hierarchy_level, permissions, is_default, is_system, created_at, updated_at`

func (s *Store) CreateGroup(ctx context.Context, g *access.Group) error {
	perms, err := marshalPermissions(g.Permissions)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if g.IsDefault {
		if _, err := tx.ExecContext(ctx, `update groups set is_default = false, updated_at = now() where is_default`); err != nil {
			return mapError(err)
		}
	}
	err = tx.QueryRowContext(ctx, `
		insert into groups (id, name, slug, hierarchy_level, permissions, is_default, is_system)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, g.ID, g.Name, g.Slug, g.HierarchyLevel, perms, g.IsDefault, g.IsSystem).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	return tx.Commit()
}

func (s *Store) GetGroup(ctx context.Context, id string) (*access.Group, error) {
	row := s.db.QueryRowContext(ctx, `select `+groupColumns+` from groups where id = $1`, id)
	return scanGroup(row)
}

func (s *Store) GetGroupBySlug(ctx context.Context, slug string) (*access.Group, error) {
	row := s.db.QueryRowContext(ctx, `select `+groupColumns+` from groups where slug = $1`, slug)
	return scanGroup(row)
}

func (s *Store) DefaultGroup(ctx context.Context) (*access.Group, error) {
	row := s.db.QueryRowContext(ctx, `select `+groupColumns+` from groups where is_default limit 1`)
	return scanGroup(row)
}

func (s *Store) ListGroups(ctx context.Context) ([]*access.Group, error) {
	rows, err := s.db.QueryContext(ctx, `select `+groupColumns+` from groups order by hierarchy_level, name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var groups []*access.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateGroup persists the group; promoting it to default demotes the
// previous default inside the same transaction so exactly one default
// exists at every point in time.
func (s *Store) UpdateGroup(ctx context.Context, g *access.Group) error {
	perms, err := marshalPermissions(g.Permissions)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if g.IsDefault {
		if _, err := tx.ExecContext(ctx, `update groups set is_default = false, updated_at = now() where is_default and id <> $1`, g.ID); err != nil {
			return mapError(err)
		}
	}
	res, err := tx.ExecContext(ctx, `
		update groups
		set name = $2, hierarchy_level = $3, permissions = $4, is_default = $5, updated_at = now()
		where id = $1
	`, g.ID, g.Name, g.HierarchyLevel, perms, g.IsDefault)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return tx.Commit()
}

// DeleteGroup relies on the users.group_id RESTRICT constraint: a group
// with members maps to ErrConflict, never a cascade.
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from groups where id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `select count(*) from users where group_id = $1`, groupID).Scan(&count)
	if err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (*access.Group, error) {
	var (
		g     access.Group
		perms []byte
	)
	err := row.Scan(&g.ID, &g.Name, &g.Slug, &g.HierarchyLevel, &perms, &g.IsDefault, &g.IsSystem, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Permissions = access.PermissionMap{}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &g.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &g, nil
}

func marshalPermissions(m access.PermissionMap) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return data, nil
}
