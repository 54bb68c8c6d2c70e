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

// UserAbilityRepository handles database operations for learner ability state
type UserAbilityRepository struct{}

// NewUserAbilityRepository creates a new repository instance
func NewUserAbilityRepository() *UserAbilityRepository {
	return &UserAbilityRepository{}
}

// Get returns the ability state for a user
func (r *UserAbilityRepository) Get(ctx context.Context, userID uuid.UUID) (*models.UserAbility, error) {
	var a models.UserAbility
	query := DB.Rebind("SELECT * FROM user_abilities WHERE user_id = ?")
	err := DB.GetContext(ctx, &a, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user ability: %w", err)
	}
	return &a, nil
}

// Create seeds an ability row for a user who has never attempted anything
func (r *UserAbilityRepository) Create(ctx context.Context, q sqlx.ExtContext, a *models.UserAbility) error {
	a.UpdatedAt = time.Now().UTC()
	a.Version = 0
	query := q.Rebind(`
		INSERT INTO user_abilities (user_id, rating, n_observations, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if _, err := q.ExecContext(ctx, query,
		a.UserID, a.Rating, a.NObservations, a.Version, a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create user ability: %w", err)
	}
	return nil
}

// UpdateVersioned persists a refined ability rating with the same optimistic
// check as the difficulty repository.
func (r *UserAbilityRepository) UpdateVersioned(ctx context.Context, q sqlx.ExtContext, a *models.UserAbility) error {
	a.UpdatedAt = time.Now().UTC()
	query := q.Rebind(`
		UPDATE user_abilities SET
			rating = ?, n_observations = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?
	`)
	res, err := q.ExecContext(ctx, query,
		a.Rating, a.NObservations, a.UpdatedAt, a.UserID, a.Version)
	if err != nil {
		return fmt.Errorf("failed to update user ability: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}
