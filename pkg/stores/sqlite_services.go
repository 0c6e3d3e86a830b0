package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const mappingColumns = `id, site_id, path, wildcard, owner_kind, owner_id, created_at, updated_at`

func scanMapping(row interface{ Scan(...any) error }) (*PathMapping, error) {
	m := &PathMapping{}
	err := row.Scan(
		&m.ID,
		&m.SiteID,
		&m.Path,
		&m.Wildcard,
		&m.OwnerKind,
		&m.OwnerID,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

// FindMappingByOwner retrieves the path mapping of an entity
func (s *SQLiteStore) FindMappingByOwner(ctx context.Context, kind OwnerKind, ownerID int64) (*PathMapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM path_mappings
		WHERE owner_kind = ? AND owner_id = ?
	`

	m, err := scanMapping(s.q.QueryRowContext(ctx, query, kind, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("path of %s %d: %w", kind, ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path mapping: %w", err)
	}

	return m, nil
}

// FindExactMapping retrieves the mapping registered for a clean path
func (s *SQLiteStore) FindExactMapping(ctx context.Context, siteID int64, path string) (*PathMapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM path_mappings
		WHERE site_id = ? AND path = ?
	`

	m, err := scanMapping(s.q.QueryRowContext(ctx, query, siteID, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find path mapping: %w", err)
	}

	return m, nil
}

// ListMappings lists the path mappings of a site ordered by path
func (s *SQLiteStore) ListMappings(ctx context.Context, siteID int64) ([]*PathMapping, error) {
	query := `SELECT ` + mappingColumns + `
		FROM path_mappings
		WHERE site_id = ?
		ORDER BY path ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list path mappings: %w", err)
	}
	defer rows.Close()

	mappings := []*PathMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan path mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating path mappings: %w", err)
	}

	return mappings, nil
}

// CreateMapping creates a new path mapping
func (s *SQLiteStore) CreateMapping(ctx context.Context, mapping *PathMapping) error {
	query := `
		INSERT INTO path_mappings (site_id, path, wildcard, owner_kind, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	now := s.now()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query,
		mapping.SiteID,
		mapping.Path,
		mapping.Wildcard,
		mapping.OwnerKind,
		mapping.OwnerID,
		mapping.CreatedAt,
		mapping.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create path mapping: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get path mapping ID: %w", err)
	}

	mapping.ID = id
	return nil
}

// SaveMapping writes back the path and wildcard flag of an existing mapping
func (s *SQLiteStore) SaveMapping(ctx context.Context, mapping *PathMapping) error {
	query := `
		UPDATE path_mappings
		SET path = ?, wildcard = ?, updated_at = ?
		WHERE id = ?
	`

	mapping.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query, mapping.Path, mapping.Wildcard, mapping.UpdatedAt, mapping.ID)
	if err != nil {
		return fmt.Errorf("failed to save path mapping: %w", err)
	}

	return expectOneRow(result, "path mapping", mapping.ID)
}

// FindRegisteredLink retrieves the link an application function registered
func (s *SQLiteStore) FindRegisteredLink(ctx context.Context, siteID int64, functionName, link string) (*RegisteredLink, error) {
	query := `
		SELECT id, site_id, function_name, page_id, link, created_at
		FROM registered_links
		WHERE site_id = ? AND function_name = ? AND link = ?
	`

	rl := &RegisteredLink{}
	err := s.q.QueryRowContext(ctx, query, siteID, functionName, link).Scan(
		&rl.ID,
		&rl.SiteID,
		&rl.FunctionName,
		&rl.PageID,
		&rl.Link,
		&rl.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %s of %s: %w", link, functionName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find registered link: %w", err)
	}

	return rl, nil
}

// CreateRegisteredLink creates a new registered link
func (s *SQLiteStore) CreateRegisteredLink(ctx context.Context, link *RegisteredLink) error {
	query := `
		INSERT INTO registered_links (site_id, function_name, page_id, link, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	link.CreatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		link.SiteID,
		link.FunctionName,
		link.PageID,
		link.Link,
		link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create registered link: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get registered link ID: %w", err)
	}

	link.ID = id
	return nil
}

// AttachResource attaches a stylesheet or script to an entity. It reports
// whether a new attachment was written.
func (s *SQLiteStore) AttachResource(ctx context.Context, res *ResourceAttachment) (bool, error) {
	query := `
		INSERT OR IGNORE INTO resource_attachments (owner_kind, owner_id, resource_type, path, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	res.CreatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query, res.OwnerKind, res.OwnerID, res.ResourceType, res.Path, res.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to attach resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get resource attachment ID: %w", err)
	}
	res.ID = id
	return true, nil
}

// ListResources lists the resources attached to an entity
func (s *SQLiteStore) ListResources(ctx context.Context, kind OwnerKind, ownerID int64) ([]*ResourceAttachment, error) {
	query := `
		SELECT id, owner_kind, owner_id, resource_type, path, created_at
		FROM resource_attachments
		WHERE owner_kind = ? AND owner_id = ?
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	resources := []*ResourceAttachment{}
	for rows.Next() {
		r := &ResourceAttachment{}
		if err := rows.Scan(&r.ID, &r.OwnerKind, &r.OwnerID, &r.ResourceType, &r.Path, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return resources, nil
}

// GetLibrary retrieves a library by name
func (s *SQLiteStore) GetLibrary(ctx context.Context, siteID int64, name string) (*Library, error) {
	query := `
		SELECT id, site_id, name, path, library_type, created_at
		FROM libraries
		WHERE site_id = ? AND name = ?
	`

	lib := &Library{}
	err := s.q.QueryRowContext(ctx, query, siteID, name).Scan(
		&lib.ID,
		&lib.SiteID,
		&lib.Name,
		&lib.Path,
		&lib.LibraryType,
		&lib.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("library %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get library: %w", err)
	}

	return lib, nil
}

// FindLibrariesByPath lists the libraries registered for a path
func (s *SQLiteStore) FindLibrariesByPath(ctx context.Context, siteID int64, path string) ([]*Library, error) {
	query := `
		SELECT id, site_id, name, path, library_type, created_at
		FROM libraries
		WHERE site_id = ? AND path = ?
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to find libraries: %w", err)
	}
	defer rows.Close()

	libs := []*Library{}
	for rows.Next() {
		lib := &Library{}
		if err := rows.Scan(&lib.ID, &lib.SiteID, &lib.Name, &lib.Path, &lib.LibraryType, &lib.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan library: %w", err)
		}
		libs = append(libs, lib)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating libraries: %w", err)
	}

	return libs, nil
}

// CreateLibrary creates a new library record
func (s *SQLiteStore) CreateLibrary(ctx context.Context, lib *Library) error {
	query := `
		INSERT INTO libraries (site_id, name, path, library_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	lib.CreatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query, lib.SiteID, lib.Name, lib.Path, lib.LibraryType, lib.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create library: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get library ID: %w", err)
	}

	lib.ID = id
	return nil
}

// AssignComponent assigns a component to a site. It reports whether the
// assignment is new.
func (s *SQLiteStore) AssignComponent(ctx context.Context, siteID int64, componentID string) (bool, error) {
	query := `
		INSERT OR IGNORE INTO site_components (site_id, component_id, created_at)
		VALUES (?, ?, ?)
	`

	result, err := s.q.ExecContext(ctx, query, siteID, componentID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to assign component: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListComponents lists the components assigned to a site
func (s *SQLiteStore) ListComponents(ctx context.Context, siteID int64) ([]string, error) {
	query := `
		SELECT component_id
		FROM site_components
		WHERE site_id = ?
		ORDER BY component_id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}
	defer rows.Close()

	components := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan component: %w", err)
		}
		components = append(components, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating components: %w", err)
	}

	return components, nil
}
