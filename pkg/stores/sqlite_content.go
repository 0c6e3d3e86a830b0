package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const contentColumns = `id, site_id, name, kind, html_id, html_class, current_revision_id,
	trashed, last_modified_by, created_at, updated_at`

func scanContent(row interface{ Scan(...any) error }) (*ContentElement, error) {
	content := &ContentElement{}
	err := row.Scan(
		&content.ID,
		&content.SiteID,
		&content.Name,
		&content.Kind,
		&content.HTMLID,
		&content.HTMLClass,
		&content.CurrentRevisionID,
		&content.Trashed,
		&content.LastModifiedBy,
		&content.CreatedAt,
		&content.UpdatedAt,
	)
	return content, err
}

// GetContent retrieves a live content element by name
func (s *SQLiteStore) GetContent(ctx context.Context, siteID int64, name string) (*ContentElement, error) {
	query := `SELECT ` + contentColumns + `
		FROM content_elements
		WHERE site_id = ? AND name = ? AND trashed = 0
	`

	content, err := scanContent(s.q.QueryRowContext(ctx, query, siteID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	return content, nil
}

// GetContentByID retrieves a content element by ID, trashed or not
func (s *SQLiteStore) GetContentByID(ctx context.Context, id int64) (*ContentElement, error) {
	query := `SELECT ` + contentColumns + `
		FROM content_elements
		WHERE id = ?
	`

	content, err := scanContent(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}

	return content, nil
}

// ListContent lists the live content elements of a site
func (s *SQLiteStore) ListContent(ctx context.Context, siteID int64) ([]*ContentElement, error) {
	query := `SELECT ` + contentColumns + `
		FROM content_elements
		WHERE site_id = ? AND trashed = 0
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content: %w", err)
	}
	defer rows.Close()

	contents := []*ContentElement{}
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content: %w", err)
		}
		contents = append(contents, content)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content: %w", err)
	}

	return contents, nil
}

// CreateContent creates a new content element without a revision
func (s *SQLiteStore) CreateContent(ctx context.Context, content *ContentElement) error {
	query := `
		INSERT INTO content_elements (site_id, name, kind, html_id, html_class, current_revision_id,
			trashed, last_modified_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, 0, ?, ?, ?)
	`

	now := s.now()
	content.CreatedAt = now
	content.UpdatedAt = now
	content.CurrentRevisionID = nil
	content.Trashed = false

	result, err := s.q.ExecContext(ctx, query,
		content.SiteID,
		content.Name,
		content.Kind,
		content.HTMLID,
		content.HTMLClass,
		content.LastModifiedBy,
		content.CreatedAt,
		content.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create content: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get content ID: %w", err)
	}

	content.ID = id
	return nil
}

// UpdateContent updates the metadata of a content element
func (s *SQLiteStore) UpdateContent(ctx context.Context, content *ContentElement) error {
	query := `
		UPDATE content_elements
		SET kind = ?, html_id = ?, html_class = ?, last_modified_by = ?, updated_at = ?
		WHERE id = ?
	`

	content.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		content.Kind,
		content.HTMLID,
		content.HTMLClass,
		content.LastModifiedBy,
		content.UpdatedAt,
		content.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}

	return expectOneRow(result, "content", content.ID)
}

// TrashContent marks a content element as trashed, releases its path and
// unlinks it from every parent.
// Trashing an already trashed element is not an error.
func (s *SQLiteStore) TrashContent(ctx context.Context, id int64) error {
	query := `UPDATE content_elements SET trashed = 1, updated_at = ? WHERE id = ?`

	result, err := s.q.ExecContext(ctx, query, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to trash content: %w", err)
	}
	if err := expectOneRow(result, "content", id); err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM path_mappings WHERE owner_kind = ? AND owner_id = ?`, OwnerContent, id); err != nil {
		return fmt.Errorf("failed to release content path: %w", err)
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM delegates WHERE child_id = ?`, id); err != nil {
		return fmt.Errorf("failed to unlink trashed content: %w", err)
	}

	return nil
}

// CreateRevision appends a revision to a content element, makes it current and
// returns the refreshed element. The revision number is assigned here.
func (s *SQLiteStore) CreateRevision(ctx context.Context, rev *Revision) (*ContentElement, error) {
	var next int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM content_revisions WHERE content_id = ?`,
		rev.ContentID,
	).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to number revision: %w", err)
	}

	query := `
		INSERT INTO content_revisions (content_id, number, locale, data, state, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	rev.Number = next
	rev.CreatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		rev.ContentID,
		rev.Number,
		rev.Locale,
		rev.Data,
		rev.State,
		rev.Author,
		rev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revision: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get revision ID: %w", err)
	}
	rev.ID = id

	result, err = s.q.ExecContext(ctx,
		`UPDATE content_elements SET current_revision_id = ?, last_modified_by = ?, updated_at = ? WHERE id = ?`,
		rev.ID, rev.Author, rev.CreatedAt, rev.ContentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set current revision: %w", err)
	}
	if err := expectOneRow(result, "content", rev.ContentID); err != nil {
		return nil, err
	}

	return s.GetContentByID(ctx, rev.ContentID)
}

// GetRevision retrieves a revision by ID
func (s *SQLiteStore) GetRevision(ctx context.Context, id int64) (*Revision, error) {
	query := `
		SELECT id, content_id, number, locale, data, state, author, created_at
		FROM content_revisions
		WHERE id = ?
	`

	rev := &Revision{}
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&rev.ID,
		&rev.ContentID,
		&rev.Number,
		&rev.Locale,
		&rev.Data,
		&rev.State,
		&rev.Author,
		&rev.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revision %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get revision: %w", err)
	}

	return rev, nil
}

// ListRevisions lists the revisions of a content element, oldest first
func (s *SQLiteStore) ListRevisions(ctx context.Context, contentID int64) ([]*Revision, error) {
	query := `
		SELECT id, content_id, number, locale, data, state, author, created_at
		FROM content_revisions
		WHERE content_id = ?
		ORDER BY number ASC
	`

	rows, err := s.q.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	revs := []*Revision{}
	for rows.Next() {
		rev := &Revision{}
		err := rows.Scan(
			&rev.ID,
			&rev.ContentID,
			&rev.Number,
			&rev.Locale,
			&rev.Data,
			&rev.State,
			&rev.Author,
			&rev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revs = append(revs, rev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}

	return revs, nil
}

// ListDelegates lists the live delegates of a content element in order
func (s *SQLiteStore) ListDelegates(ctx context.Context, parentID int64) ([]*Delegate, error) {
	query := `
		SELECT d.id, d.parent_id, d.child_id, d.purpose, d.position
		FROM delegates d
		JOIN content_elements c ON c.id = d.child_id AND c.trashed = 0
		WHERE d.parent_id = ?
		ORDER BY d.position ASC
	`

	rows, err := s.q.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegates: %w", err)
	}
	defer rows.Close()

	delegates := []*Delegate{}
	for rows.Next() {
		d := &Delegate{}
		if err := rows.Scan(&d.ID, &d.ParentID, &d.ChildID, &d.Purpose, &d.Position); err != nil {
			return nil, fmt.Errorf("failed to scan delegate: %w", err)
		}
		delegates = append(delegates, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delegates: %w", err)
	}

	return delegates, nil
}

// ReplaceDelegates replaces the delegates of a content element. Positions are
// taken from the slice order.
func (s *SQLiteStore) ReplaceDelegates(ctx context.Context, parentID int64, delegates []*Delegate) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM delegates WHERE parent_id = ?`, parentID); err != nil {
		return fmt.Errorf("failed to clear delegates: %w", err)
	}

	query := `
		INSERT INTO delegates (parent_id, child_id, purpose, position)
		VALUES (?, ?, ?, ?)
	`

	for i, d := range delegates {
		d.ParentID = parentID
		d.Position = i
		result, err := s.q.ExecContext(ctx, query, d.ParentID, d.ChildID, d.Purpose, d.Position)
		if err != nil {
			return fmt.Errorf("failed to create delegate: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get delegate ID: %w", err)
		}
		d.ID = id
	}

	return nil
}

// ListPlacements lists the live content placed in one box of an owner
func (s *SQLiteStore) ListPlacements(ctx context.Context, kind OwnerKind, ownerID, boxID int64) ([]*Placement, error) {
	query := `
		SELECT p.id, p.owner_kind, p.owner_id, p.box_id, p.content_id, p.position
		FROM placements p
		JOIN content_elements c ON c.id = p.content_id AND c.trashed = 0
		WHERE p.owner_kind = ? AND p.owner_id = ? AND p.box_id = ?
		ORDER BY p.position ASC
	`

	rows, err := s.q.QueryContext(ctx, query, kind, ownerID, boxID)
	if err != nil {
		return nil, fmt.Errorf("failed to list placements: %w", err)
	}
	defer rows.Close()

	placements := []*Placement{}
	for rows.Next() {
		p := &Placement{}
		if err := rows.Scan(&p.ID, &p.OwnerKind, &p.OwnerID, &p.BoxID, &p.ContentID, &p.Position); err != nil {
			return nil, fmt.Errorf("failed to scan placement: %w", err)
		}
		placements = append(placements, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating placements: %w", err)
	}

	return placements, nil
}

// ReplacePlacements rewrites the ordered content list of one box of an owner
func (s *SQLiteStore) ReplacePlacements(ctx context.Context, kind OwnerKind, ownerID, boxID int64, contentIDs []int64) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM placements WHERE owner_kind = ? AND owner_id = ? AND box_id = ?`,
		kind, ownerID, boxID,
	); err != nil {
		return fmt.Errorf("failed to clear placements: %w", err)
	}

	query := `
		INSERT INTO placements (owner_kind, owner_id, box_id, content_id, position)
		VALUES (?, ?, ?, ?, ?)
	`

	for i, id := range contentIDs {
		if _, err := s.q.ExecContext(ctx, query, kind, ownerID, boxID, id, i); err != nil {
			return fmt.Errorf("failed to create placement: %w", err)
		}
	}

	return nil
}
