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

// MemoryStateRepository handles database operations for per user x concept
// memory state
type MemoryStateRepository struct{}

// NewMemoryStateRepository creates a new repository instance
func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{}
}

// Get returns the memory state for a specific user and concept
func (r *MemoryStateRepository) Get(ctx context.Context, userID, conceptID uuid.UUID) (*models.MemoryState, error) {
	var st models.MemoryState
	query := DB.Rebind("SELECT * FROM memory_states WHERE user_id = ? AND concept_id = ?")
	err := DB.GetContext(ctx, &st, query, userID, conceptID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory state: %w", err)
	}
	return &st, nil
}

// Create inserts the state created on first review of a concept
func (r *MemoryStateRepository) Create(ctx context.Context, q sqlx.ExtContext, st *models.MemoryState) error {
	now := time.Now().UTC()
	st.CreatedAt = now
	st.UpdatedAt = now
	st.Version = 0
	query := q.Rebind(`
		INSERT INTO memory_states (
			user_id, concept_id, state, stability, difficulty,
			last_retrievability, last_reviewed_at, due_at,
			review_count, lapse_count, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := q.ExecContext(ctx, query,
		st.UserID, st.ConceptID, st.State, st.Stability, st.Difficulty,
		st.LastRetrievability, st.LastReviewedAt, st.DueAt,
		st.ReviewCount, st.LapseCount, st.Version, st.CreatedAt, st.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create memory state: %w", err)
	}
	return nil
}

// UpdateVersioned persists an advanced state. The write only lands when the
// row still carries the version the state was read at, which serializes
// concurrent reviews of the same (user, concept) pair.
func (r *MemoryStateRepository) UpdateVersioned(ctx context.Context, q sqlx.ExtContext, st *models.MemoryState) error {
	st.UpdatedAt = time.Now().UTC()
	query := q.Rebind(`
		UPDATE memory_states SET
			state = ?, stability = ?, difficulty = ?,
			last_retrievability = ?, last_reviewed_at = ?, due_at = ?,
			review_count = ?, lapse_count = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND concept_id = ? AND version = ?
	`)
	res, err := q.ExecContext(ctx, query,
		st.State, st.Stability, st.Difficulty,
		st.LastRetrievability, st.LastReviewedAt, st.DueAt,
		st.ReviewCount, st.LapseCount, st.UpdatedAt,
		st.UserID, st.ConceptID, st.Version)
	if err != nil {
		return fmt.Errorf("failed to update memory state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	st.Version++
	return nil
}

// GetDue returns all states for a user with due_at at or before the window
// end, ordered soonest first. Overdue rows are included by construction.
func (r *MemoryStateRepository) GetDue(ctx context.Context, userID uuid.UUID, until time.Time) ([]models.MemoryState, error) {
	var states []models.MemoryState
	query := DB.Rebind(`
		SELECT * FROM memory_states
		WHERE user_id = ? AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at ASC
	`)
	if err := DB.SelectContext(ctx, &states, query, userID, until); err != nil {
		return nil, fmt.Errorf("failed to get due states: %w", err)
	}
	return states, nil
}

// CountByUser returns how many concepts the user has tracked state for
func (r *MemoryStateRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := DB.Rebind("SELECT COUNT(*) FROM memory_states WHERE user_id = ?")
	if err := DB.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count memory states: %w", err)
	}
	return count, nil
}

// CountDueBefore returns the number of states due at or before the deadline
func (r *MemoryStateRepository) CountDueBefore(ctx context.Context, userID uuid.UUID, deadline time.Time) (int, error) {
	var count int
	query := DB.Rebind(`
		SELECT COUNT(*) FROM memory_states
		WHERE user_id = ? AND due_at IS NOT NULL AND due_at <= ?
	`)
	if err := DB.GetContext(ctx, &count, query, userID, deadline); err != nil {
		return 0, fmt.Errorf("failed to count due states: %w", err)
	}
	return count, nil
}
