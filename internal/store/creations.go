package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aisaas-platform/aisaas/internal/models"
)

const creationColumns = `id, user_id, tool_type, title, input, output, metadata, created_at`

func scanCreation(row rowScanner) (*models.Creation, error) {
	c := &models.Creation{}
	var input string
	if err := row.Scan(&c.ID, &c.UserID, &c.ToolType, &c.Title, &input, &c.Output, &c.Metadata, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Input = []byte(input)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

// InsertCreation appends a ledger entry in a single statement. ID and
// CreatedAt are assigned when empty.
func (s *Store) InsertCreation(ctx context.Context, c *models.Creation) error {
	if c.ID == "" {
		c.ID = generateID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if len(c.Input) == 0 {
		c.Input = []byte("{}")
	}
	if c.Metadata == nil {
		c.Metadata = models.Metadata{}
	}

	_, err := s.exec(ctx, `
		INSERT INTO creations (`+creationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.ToolType, c.Title, string(c.Input), c.Output, c.Metadata, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert creation: %w", err)
	}
	return nil
}

// GetCreation loads one creation. A non-empty userID scopes the lookup to
// that owner; a miss in either case is sql.ErrNoRows.
func (s *Store) GetCreation(ctx context.Context, id, userID string) (*models.Creation, error) {
	var w where
	w.add("id = ?", id)
	if userID != "" {
		w.add("user_id = ?", userID)
	}
	return scanCreation(s.queryRow(ctx, `SELECT `+creationColumns+` FROM creations`+w.String(), w.args...))
}

// DeleteCreation removes a creation owned by userID.
func (s *Store) DeleteCreation(ctx context.Context, id, userID string) error {
	result, err := s.exec(ctx, `DELETE FROM creations WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return expectOne(result)
}

func creationWhere(filter models.CreationFilter) *where {
	w := &where{}
	if filter.UserID != "" {
		w.add("user_id = ?", filter.UserID)
	}
	if filter.ToolType != "" {
		w.add("tool_type = ?", filter.ToolType)
	}
	return w
}

// ListCreations returns a newest-first page of creations.
func (s *Store) ListCreations(ctx context.Context, filter models.CreationFilter, p models.Pagination) (models.Page[models.Creation], error) {
	p = p.Normalize()
	w := creationWhere(filter)

	total, err := s.count(ctx, `SELECT COUNT(*) FROM creations`+w.String(), w.args...)
	if err != nil {
		return models.Page[models.Creation]{}, err
	}

	args := append(append([]any{}, w.args...), p.Limit, p.Offset())
	rows, err := s.query(ctx, `SELECT `+creationColumns+` FROM creations`+w.String()+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return models.Page[models.Creation]{}, err
	}
	defer rows.Close()

	var items []models.Creation
	for rows.Next() {
		c, err := scanCreation(rows)
		if err != nil {
			return models.Page[models.Creation]{}, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return models.Page[models.Creation]{}, err
	}
	return models.NewPage(items, int(total), p), nil
}

// CountCreations counts creations matching filter created at or after
// since. A zero since counts everything.
func (s *Store) CountCreations(ctx context.Context, filter models.CreationFilter, since time.Time) (int, error) {
	w := creationWhere(filter)
	if !since.IsZero() {
		w.add("created_at >= ?", since.UTC())
	}
	n, err := s.count(ctx, `SELECT COUNT(*) FROM creations`+w.String(), w.args...)
	return int(n), err
}

// CountCreationsByTool groups creation counts by tool. An empty userID
// counts across all users.
func (s *Store) CountCreationsByTool(ctx context.Context, userID string) (map[models.ToolType]int, error) {
	w := creationWhere(models.CreationFilter{UserID: userID})
	rows, err := s.query(ctx, `SELECT tool_type, COUNT(*) FROM creations`+w.String()+` GROUP BY tool_type`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.ToolType]int)
	for rows.Next() {
		var tool models.ToolType
		var n sql.NullInt64
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, err
		}
		counts[tool] = int(n.Int64)
	}
	return counts, rows.Err()
}
