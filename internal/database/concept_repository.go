package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/recallengine/pkg/models"
)

// ConceptRepository handles database operations for concepts
type ConceptRepository struct{}

// NewConceptRepository creates a new repository instance
func NewConceptRepository() *ConceptRepository {
	return &ConceptRepository{}
}

// GetByID returns a concept by its identifier
func (r *ConceptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Concept, error) {
	var c models.Concept
	query := DB.Rebind("SELECT * FROM concepts WHERE id = ?")
	err := DB.GetContext(ctx, &c, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	return &c, nil
}

// GetByIDs returns the concepts for the given ids keyed by id. Missing ids
// are simply absent from the map.
func (r *ConceptRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Concept, error) {
	result := make(map[uuid.UUID]models.Concept, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query, inArgs, err := sqlx.In("SELECT * FROM concepts WHERE id IN (?)", args)
	if err != nil {
		return nil, fmt.Errorf("failed to build concept lookup: %w", err)
	}
	var concepts []models.Concept
	if err := DB.SelectContext(ctx, &concepts, DB.Rebind(query), inArgs...); err != nil {
		return nil, fmt.Errorf("failed to get concepts: %w", err)
	}
	for _, c := range concepts {
		result[c.ID] = c
	}
	return result, nil
}

// List returns all concepts ordered by name
func (r *ConceptRepository) List(ctx context.Context) ([]models.Concept, error) {
	var concepts []models.Concept
	err := DB.SelectContext(ctx, &concepts, "SELECT * FROM concepts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	return concepts, nil
}

// Upsert inserts or refreshes a concept row. Returns true when a new row was
// created.
func (r *ConceptRepository) Upsert(ctx context.Context, c *models.Concept) (bool, error) {
	now := time.Now().UTC()
	existing, err := r.GetByID(ctx, c.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if existing != nil {
		query := DB.Rebind(`
			UPDATE concepts SET
				name = ?, theme_id = ?, theme_name = ?,
				block_id = ?, block_name = ?, updated_at = ?
			WHERE id = ?
		`)
		if _, err := DB.ExecContext(ctx, query,
			c.Name, c.ThemeID, c.ThemeName, c.BlockID, c.BlockName, now, c.ID); err != nil {
			return false, fmt.Errorf("failed to update concept: %w", err)
		}
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = now
		return false, nil
	}

	c.CreatedAt = now
	c.UpdatedAt = now
	query := DB.Rebind(`
		INSERT INTO concepts (id, name, theme_id, theme_name, block_id, block_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := DB.ExecContext(ctx, query,
		c.ID, c.Name, c.ThemeID, c.ThemeName, c.BlockID, c.BlockName, c.CreatedAt, c.UpdatedAt); err != nil {
		return false, fmt.Errorf("failed to create concept: %w", err)
	}
	return true, nil
}
