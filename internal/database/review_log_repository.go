package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/recallengine/pkg/models"
)

// ReviewLogRepository handles the append-only review log
type ReviewLogRepository struct{}

// NewReviewLogRepository creates a new repository instance
func NewReviewLogRepository() *ReviewLogRepository {
	return &ReviewLogRepository{}
}

// Append writes one immutable review entry. Entries are never updated or
// deleted.
func (r *ReviewLogRepository) Append(ctx context.Context, q sqlx.ExtContext, e *models.ReviewLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := q.Rebind(`
		INSERT INTO review_logs (
			id, user_id, concept_id, reviewed_at, rating, correct,
			delta_days, time_spent_ms, predicted_retrievability, session_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if _, err := q.ExecContext(ctx, query,
		e.ID, e.UserID, e.ConceptID, e.ReviewedAt, e.Rating, e.Correct,
		e.DeltaDays, e.TimeSpentMs, e.PredictedRetrievability, e.SessionID); err != nil {
		return fmt.Errorf("failed to append review log: %w", err)
	}
	return nil
}

// ListByUser returns every entry for a user in chronological order. This is
// the training input, so ordering matters: later reviews depend on earlier
// state.
func (r *ReviewLogRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ReviewLogEntry, error) {
	var entries []models.ReviewLogEntry
	query := DB.Rebind(`
		SELECT * FROM review_logs WHERE user_id = ? ORDER BY reviewed_at ASC, id ASC
	`)
	if err := DB.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list review logs: %w", err)
	}
	return entries, nil
}

// ListPage returns a page of entries for a user, optionally narrowed to one
// concept, newest first.
func (r *ReviewLogRepository) ListPage(ctx context.Context, userID uuid.UUID, conceptID *uuid.UUID, limit, offset int) ([]models.ReviewLogEntry, error) {
	var entries []models.ReviewLogEntry
	if conceptID != nil {
		query := DB.Rebind(`
			SELECT * FROM review_logs
			WHERE user_id = ? AND concept_id = ?
			ORDER BY reviewed_at DESC, id DESC
			LIMIT ? OFFSET ?
		`)
		if err := DB.SelectContext(ctx, &entries, query, userID, *conceptID, limit, offset); err != nil {
			return nil, fmt.Errorf("failed to list review logs: %w", err)
		}
		return entries, nil
	}
	query := DB.Rebind(`
		SELECT * FROM review_logs
		WHERE user_id = ?
		ORDER BY reviewed_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	if err := DB.SelectContext(ctx, &entries, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list review logs: %w", err)
	}
	return entries, nil
}

// CountByUser returns the total number of logged reviews for a user
func (r *ReviewLogRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	query := DB.Rebind("SELECT COUNT(*) FROM review_logs WHERE user_id = ?")
	if err := DB.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count review logs: %w", err)
	}
	return count, nil
}

// UsersWithAtLeast returns the users whose log count has reached n. Feeds
// the nightly training batch.
func (r *ReviewLogRepository) UsersWithAtLeast(ctx context.Context, n int) ([]uuid.UUID, error) {
	var users []uuid.UUID
	query := DB.Rebind(`
		SELECT user_id FROM review_logs
		GROUP BY user_id
		HAVING COUNT(*) >= ?
		ORDER BY user_id
	`)
	if err := DB.SelectContext(ctx, &users, query, n); err != nil {
		return nil, fmt.Errorf("failed to find trainable users: %w", err)
	}
	return users, nil
}
