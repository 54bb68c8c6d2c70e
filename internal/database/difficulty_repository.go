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

// ConceptDifficultyRepository handles database operations for Elo difficulty state
type ConceptDifficultyRepository struct{}

// NewConceptDifficultyRepository creates a new repository instance
func NewConceptDifficultyRepository() *ConceptDifficultyRepository {
	return &ConceptDifficultyRepository{}
}

// Get returns the difficulty state for a concept
func (r *ConceptDifficultyRepository) Get(ctx context.Context, conceptID uuid.UUID) (*models.ConceptDifficulty, error) {
	var d models.ConceptDifficulty
	query := DB.Rebind("SELECT * FROM concept_difficulty WHERE concept_id = ?")
	err := DB.GetContext(ctx, &d, query, conceptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept difficulty: %w", err)
	}
	return &d, nil
}

// Create seeds a difficulty row for a concept that has never been attempted
func (r *ConceptDifficultyRepository) Create(ctx context.Context, q sqlx.ExtContext, d *models.ConceptDifficulty) error {
	d.UpdatedAt = time.Now().UTC()
	d.Version = 0
	query := q.Rebind(`
		INSERT INTO concept_difficulty (concept_id, rating, n_observations, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := q.ExecContext(ctx, query,
		d.ConceptID, d.Rating, d.NObservations, d.Version, d.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create concept difficulty: %w", err)
	}
	return nil
}

// UpdateVersioned persists a refined rating. The write only lands when the
// row still carries the version the state was read at; otherwise ErrConflict
// is returned and the caller re-reads and retries.
func (r *ConceptDifficultyRepository) UpdateVersioned(ctx context.Context, q sqlx.ExtContext, d *models.ConceptDifficulty) error {
	d.UpdatedAt = time.Now().UTC()
	query := q.Rebind(`
		UPDATE concept_difficulty SET
			rating = ?, n_observations = ?, version = version + 1, updated_at = ?
		WHERE concept_id = ? AND version = ?
	`)
	res, err := q.ExecContext(ctx, query,
		d.Rating, d.NObservations, d.UpdatedAt, d.ConceptID, d.Version)
	if err != nil {
		return fmt.Errorf("failed to update concept difficulty: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	d.Version++
	return nil
}
