package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewLogEntry is one immutable review event. The log is append-only and is
// the ground truth the memory model is retrained against, so entries carry
// the prediction that was made at review time for calibration auditing.
type ReviewLogEntry struct {
	ID                      uuid.UUID  `json:"id" db:"id"`
	UserID                  uuid.UUID  `json:"user_id" db:"user_id"`
	ConceptID               uuid.UUID  `json:"concept_id" db:"concept_id"`
	ReviewedAt              time.Time  `json:"reviewed_at" db:"reviewed_at"`
	Rating                  int        `json:"rating" db:"rating"`
	Correct                 bool       `json:"correct" db:"correct"`
	DeltaDays               float64    `json:"delta_days" db:"delta_days"`
	TimeSpentMs             *int       `json:"time_spent_ms" db:"time_spent_ms"`
	PredictedRetrievability *float64   `json:"predicted_retrievability" db:"predicted_retrievability"`
	SessionID               *uuid.UUID `json:"session_id" db:"session_id"`
}
