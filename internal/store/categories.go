package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skimmer/internal/core"
)

// CreateCategory inserts a category and sets its ID.
func (s *Store) CreateCategory(ctx context.Context, c *core.Category) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (name, parent_id, position, created_at)
		VALUES (?, ?, ?, ?)`, c.Name, c.ParentID, c.Position, now)
	if err != nil {
		return fmt.Errorf("failed to create category: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt = now
	return nil
}

// GetCategory returns the category with the given id, or nil.
func (s *Store) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	var c core.Category
	var parentID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, position, created_at
		FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &parentID, &c.Position, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	if parentID.Valid {
		c.ParentID = &parentID.Int64
	}
	return &c, nil
}

// ListCategories returns all categories ordered by position then name.
func (s *Store) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, parent_id, position, created_at
		FROM categories ORDER BY position, name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		var parentID sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Name, &parentID, &c.Position, &c.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.Int64
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpdateCategory persists name, parent and position.
func (s *Store) UpdateCategory(ctx context.Context, c *core.Category) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, parent_id = ?, position = ? WHERE id = ?`,
		c.Name, c.ParentID, c.Position, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}
	return nil
}

// DeleteCategory removes a category; its feeds keep existing with a NULL
// category.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}

// ReorderCategories rewrites positions to match the given id order.
func (s *Store) ReorderCategories(ctx context.Context, ids []int64) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for i, id := range ids {
			if _, err := tx.tx.ExecContext(ctx,
				`UPDATE categories SET position = ? WHERE id = ?`, i, id); err != nil {
				return fmt.Errorf("failed to reorder category %d: %w", id, err)
			}
		}
		return nil
	})
}
