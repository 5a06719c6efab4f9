package pg

import (
	"context"
	"database/sql"
	"errors"

	"sitewright.io/internal/access"
)

const pageColumns = `page_id, page_name, is_locked, allowed_groups, allowed_users, denied_users,
	redirect_to, custom_redirect_url, created_at, updated_at`

func (s *Store) UpsertPage(ctx context.Context, p *access.PageAccess) error {
	err := s.db.QueryRowContext(ctx, `
		insert into page_access (page_id, page_name, is_locked, allowed_groups, allowed_users, denied_users, redirect_to, custom_redirect_url)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		on conflict (page_id) do update set
			page_name = excluded.page_name,
			is_locked = excluded.is_locked,
			allowed_groups = excluded.allowed_groups,
			allowed_users = excluded.allowed_users,
			denied_users = excluded.denied_users,
			redirect_to = excluded.redirect_to,
			custom_redirect_url = excluded.custom_redirect_url,
			updated_at = now()
		returning created_at, updated_at
	`, p.PageID, p.PageName, p.Locked, jsonArray(p.AllowedGroups), jsonArray(p.AllowedUsers),
		jsonArray(p.DeniedUsers), p.Redirect, nullIfEmpty(p.CustomRedirectURL)).Scan(&p.CreatedAt, &p.UpdatedAt)
	return mapError(err)
}

func (s *Store) GetPage(ctx context.Context, pageID string) (*access.PageAccess, error) {
	row := s.db.QueryRowContext(ctx, `select `+pageColumns+` from page_access where page_id = $1`, pageID)
	return scanPage(row)
}

func (s *Store) ListPages(ctx context.Context) ([]*access.PageAccess, error) {
	rows, err := s.db.QueryContext(ctx, `select `+pageColumns+` from page_access order by page_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var pages []*access.PageAccess
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *Store) DeletePage(ctx context.Context, pageID string) error {
	return s.execOne(ctx, `delete from page_access where page_id = $1`, pageID)
}

func scanPage(row rowScanner) (*access.PageAccess, error) {
	var (
		p         access.PageAccess
		allowedG  []byte
		allowedU  []byte
		deniedU   []byte
		customURL sql.NullString
	)
	err := row.Scan(&p.PageID, &p.PageName, &p.Locked, &allowedG, &allowedU, &deniedU,
		&p.Redirect, &customURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if customURL.Valid {
		p.CustomRedirectURL = customURL.String
	}
	if p.AllowedGroups, err = parseJSONArray(allowedG); err != nil {
		return nil, err
	}
	if p.AllowedUsers, err = parseJSONArray(allowedU); err != nil {
		return nil, err
	}
	if p.DeniedUsers, err = parseJSONArray(deniedU); err != nil {
		return nil, err
	}
	return &p, nil
}
