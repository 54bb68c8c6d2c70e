package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/recallengine/pkg/models"
)

// ParameterSetRepository handles published training results. Rows are
// immutable; the newest row per user is the active one.
type ParameterSetRepository struct{}

// NewParameterSetRepository creates a new repository instance
func NewParameterSetRepository() *ParameterSetRepository {
	return &ParameterSetRepository{}
}

// Create publishes one parameter set. Publication is a single insert, so a
// cancelled training run that never reaches this point leaves nothing behind.
func (r *ParameterSetRepository) Create(ctx context.Context, ps *models.ParameterSet) error {
	if ps.ID == uuid.Nil {
		ps.ID = uuid.New()
	}
	ps.CreatedAt = time.Now().UTC()
	query := DB.Rebind(`
		INSERT INTO parameter_sets (
			id, user_id, weights, shrinkage_alpha, optimal_retention,
			val_logloss, val_brier, baseline_logloss, improvement,
			n_logs, run_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := DB.ExecContext(ctx, query,
		ps.ID, ps.UserID, ps.Weights, ps.ShrinkageAlpha, ps.OptimalRetention,
		ps.ValLogLoss, ps.ValBrier, ps.BaselineLogLoss, ps.Improvement,
		ps.NLogs, ps.RunID, ps.CreatedAt); err != nil {
		return fmt.Errorf("failed to create parameter set: %w", err)
	}
	return nil
}

// GetActive returns the newest parameter set for a user, or ErrNotFound when
// the user has never been trained.
func (r *ParameterSetRepository) GetActive(ctx context.Context, userID uuid.UUID) (*models.ParameterSet, error) {
	var ps models.ParameterSet
	query := DB.Rebind(`
		SELECT * FROM parameter_sets
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`)
	err := DB.GetContext(ctx, &ps, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active parameter set: %w", err)
	}
	return &ps, nil
}
