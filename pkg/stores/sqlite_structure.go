package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetLayout retrieves a layout by name
func (s *SQLiteStore) GetLayout(ctx context.Context, siteID int64, name string) (*Layout, error) {
	query := `
		SELECT id, site_id, name, created_at, updated_at
		FROM layouts
		WHERE site_id = ? AND name = ?
	`

	layout := &Layout{}
	err := s.q.QueryRowContext(ctx, query, siteID, name).Scan(
		&layout.ID,
		&layout.SiteID,
		&layout.Name,
		&layout.CreatedAt,
		&layout.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("layout %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layout: %w", err)
	}

	return layout, nil
}

// CreateLayout creates a new layout record
func (s *SQLiteStore) CreateLayout(ctx context.Context, layout *Layout) error {
	query := `
		INSERT INTO layouts (site_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`

	now := s.now()
	layout.CreatedAt = now
	layout.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query, layout.SiteID, layout.Name, layout.CreatedAt, layout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create layout: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get layout ID: %w", err)
	}

	layout.ID = id
	return nil
}

// ListBoxes lists the boxes of a layout in creation order
func (s *SQLiteStore) ListBoxes(ctx context.Context, layoutID int64) ([]*Box, error) {
	query := `
		SELECT id, layout_id, parent_id, name, box_type, default_content_area,
			   html_id, html_class, position
		FROM boxes
		WHERE layout_id = ?
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, layoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to list boxes: %w", err)
	}
	defer rows.Close()

	boxes := []*Box{}
	for rows.Next() {
		box := &Box{}
		err := rows.Scan(
			&box.ID,
			&box.LayoutID,
			&box.ParentID,
			&box.Name,
			&box.BoxType,
			&box.DefaultContentArea,
			&box.HTMLID,
			&box.HTMLClass,
			&box.Position,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan box: %w", err)
		}
		boxes = append(boxes, box)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boxes: %w", err)
	}

	return boxes, nil
}

// CreateBox creates a new box record
func (s *SQLiteStore) CreateBox(ctx context.Context, box *Box) error {
	query := `
		INSERT INTO boxes (layout_id, parent_id, name, box_type, default_content_area,
			html_id, html_class, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.q.ExecContext(ctx, query,
		box.LayoutID,
		box.ParentID,
		box.Name,
		box.BoxType,
		box.DefaultContentArea,
		box.HTMLID,
		box.HTMLClass,
		box.Position,
	)
	if err != nil {
		return fmt.Errorf("failed to create box: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get box ID: %w", err)
	}

	box.ID = id
	return nil
}

// UpdateBox updates the attributes and position of a box
func (s *SQLiteStore) UpdateBox(ctx context.Context, box *Box) error {
	query := `
		UPDATE boxes
		SET parent_id = ?, box_type = ?, default_content_area = ?, html_id = ?,
			html_class = ?, position = ?
		WHERE id = ?
	`

	result, err := s.q.ExecContext(ctx, query,
		box.ParentID,
		box.BoxType,
		box.DefaultContentArea,
		box.HTMLID,
		box.HTMLClass,
		box.Position,
		box.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update box: %w", err)
	}

	return expectOneRow(result, "box", box.ID)
}

// GetTemplate retrieves a template by name
func (s *SQLiteStore) GetTemplate(ctx context.Context, siteID int64, name string) (*Template, error) {
	query := `
		SELECT id, site_id, name, html_id, layout_id, created_at, updated_at
		FROM templates
		WHERE site_id = ? AND name = ?
	`

	tmpl := &Template{}
	err := s.q.QueryRowContext(ctx, query, siteID, name).Scan(
		&tmpl.ID,
		&tmpl.SiteID,
		&tmpl.Name,
		&tmpl.HTMLID,
		&tmpl.LayoutID,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return tmpl, nil
}

// CreateTemplate creates a new template record
func (s *SQLiteStore) CreateTemplate(ctx context.Context, tmpl *Template) error {
	query := `
		INSERT INTO templates (site_id, name, html_id, layout_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := s.now()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query,
		tmpl.SiteID,
		tmpl.Name,
		tmpl.HTMLID,
		tmpl.LayoutID,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get template ID: %w", err)
	}

	tmpl.ID = id
	return nil
}

// UpdateTemplate updates the layout and html id of a template
func (s *SQLiteStore) UpdateTemplate(ctx context.Context, tmpl *Template) error {
	query := `
		UPDATE templates
		SET html_id = ?, layout_id = ?, updated_at = ?
		WHERE id = ?
	`

	tmpl.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query, tmpl.HTMLID, tmpl.LayoutID, tmpl.UpdatedAt, tmpl.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}

	return expectOneRow(result, "template", tmpl.ID)
}

const pageColumns = `id, site_id, name, template_id, layout_id, permission_id,
	authentication_page_id, trashed, created_by, last_modified_by, created_at, updated_at`

func scanPage(row interface{ Scan(...any) error }) (*Page, error) {
	page := &Page{}
	err := row.Scan(
		&page.ID,
		&page.SiteID,
		&page.Name,
		&page.TemplateID,
		&page.LayoutID,
		&page.PermissionID,
		&page.AuthenticationPageID,
		&page.Trashed,
		&page.CreatedBy,
		&page.LastModifiedBy,
		&page.CreatedAt,
		&page.UpdatedAt,
	)
	return page, err
}

// GetPage retrieves a live page by name
func (s *SQLiteStore) GetPage(ctx context.Context, siteID int64, name string) (*Page, error) {
	query := `SELECT ` + pageColumns + `
		FROM pages
		WHERE site_id = ? AND name = ? AND trashed = 0
	`

	page, err := scanPage(s.q.QueryRowContext(ctx, query, siteID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	return page, nil
}

// ListPages lists the live pages of a site
func (s *SQLiteStore) ListPages(ctx context.Context, siteID int64) ([]*Page, error) {
	query := `SELECT ` + pageColumns + `
		FROM pages
		WHERE site_id = ? AND trashed = 0
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	pages := []*Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, page)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pages: %w", err)
	}

	return pages, nil
}

// CreatePage creates a new page record
func (s *SQLiteStore) CreatePage(ctx context.Context, page *Page) error {
	query := `
		INSERT INTO pages (site_id, name, template_id, layout_id, permission_id,
			authentication_page_id, trashed, created_by, last_modified_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`

	now := s.now()
	page.CreatedAt = now
	page.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query,
		page.SiteID,
		page.Name,
		page.TemplateID,
		page.LayoutID,
		page.PermissionID,
		page.AuthenticationPageID,
		page.CreatedBy,
		page.LastModifiedBy,
		page.CreatedAt,
		page.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get page ID: %w", err)
	}

	page.ID = id
	return nil
}

// UpdatePage updates the references of a page
func (s *SQLiteStore) UpdatePage(ctx context.Context, page *Page) error {
	query := `
		UPDATE pages
		SET template_id = ?, layout_id = ?, permission_id = ?, authentication_page_id = ?,
			last_modified_by = ?, updated_at = ?
		WHERE id = ?
	`

	page.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		page.TemplateID,
		page.LayoutID,
		page.PermissionID,
		page.AuthenticationPageID,
		page.LastModifiedBy,
		page.UpdatedAt,
		page.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}

	return expectOneRow(result, "page", page.ID)
}

// TrashPage marks a page as trashed and releases its path.
func (s *SQLiteStore) TrashPage(ctx context.Context, id int64) error {
	query := `UPDATE pages SET trashed = 1, updated_at = ? WHERE id = ? AND trashed = 0`

	result, err := s.q.ExecContext(ctx, query, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to trash page: %w", err)
	}
	if err := expectOneRow(result, "page", id); err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM path_mappings WHERE owner_kind = ? AND owner_id = ?`, OwnerPage, id); err != nil {
		return fmt.Errorf("failed to release page path: %w", err)
	}

	return nil
}

// GetPermission retrieves a permission by programmatic name
func (s *SQLiteStore) GetPermission(ctx context.Context, siteID int64, programmaticName string) (*Permission, error) {
	query := `
		SELECT id, site_id, programmatic_name, display_name, minimum_security_level, created_at
		FROM permissions
		WHERE site_id = ? AND programmatic_name = ?
	`

	perm := &Permission{}
	err := s.q.QueryRowContext(ctx, query, siteID, programmaticName).Scan(
		&perm.ID,
		&perm.SiteID,
		&perm.ProgrammaticName,
		&perm.DisplayName,
		&perm.MinimumSecurityLevel,
		&perm.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %s: %w", programmaticName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}

	return perm, nil
}

// CreatePermission creates a new permission record
func (s *SQLiteStore) CreatePermission(ctx context.Context, perm *Permission) error {
	query := `
		INSERT INTO permissions (site_id, programmatic_name, display_name, minimum_security_level, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	perm.CreatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		perm.SiteID,
		perm.ProgrammaticName,
		perm.DisplayName,
		perm.MinimumSecurityLevel,
		perm.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get permission ID: %w", err)
	}

	perm.ID = id
	return nil
}
