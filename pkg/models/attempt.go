package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptEvent is what the attempt-grading pipeline hands the engine after
// scoring a learner's answer. One attempt may touch several concepts.
type AttemptEvent struct {
	UserID           uuid.UUID   `json:"user_id"`
	ConceptIDs       []uuid.UUID `json:"concept_ids"`
	Correct          bool        `json:"correct"`
	Rating           int         `json:"rating"`
	OccurredAt       time.Time   `json:"occurred_at"`
	TimeSpentMs      *int        `json:"time_spent_ms"`
	SessionID        *uuid.UUID  `json:"session_id"`
	IsMultipleChoice bool        `json:"is_multiple_choice"`
	NChoices         int         `json:"n_choices"`
}

// ReviewResult reports the advanced scheduling state for one concept after
// an attempt has been absorbed. EloRating and AbilityEstimate are nil when
// the calibration write did not land; the scheduling fields are always set.
type ReviewResult struct {
	ConceptID       uuid.UUID `json:"concept_id"`
	Rating          int       `json:"rating"`
	Stability       float64   `json:"stability"`
	Difficulty      float64   `json:"difficulty"`
	Retrievability  float64   `json:"retrievability"`
	DueAt           time.Time `json:"due_at"`
	EloRating       *float64  `json:"elo_rating,omitempty"`
	AbilityEstimate *float64  `json:"ability_estimate,omitempty"`
}
