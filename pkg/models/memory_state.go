package models

import (
	"time"

	"github.com/google/uuid"
)

// Memory states for a user x concept pair.
const (
	MemoryStateUnseen   = "unseen"
	MemoryStateLearning = "learning"
	MemoryStateReviewed = "reviewed"
)

// MemoryState tracks one user's memory of one concept: stability (days),
// memory-model difficulty (1-10), the cached retrievability at the last
// review, and the scheduling window. The version column serializes
// concurrent read-modify-write cycles on the same pair.
type MemoryState struct {
	UserID             uuid.UUID  `json:"user_id" db:"user_id"`
	ConceptID          uuid.UUID  `json:"concept_id" db:"concept_id"`
	State              string     `json:"state" db:"state"`
	Stability          float64    `json:"stability" db:"stability"`
	Difficulty         float64    `json:"difficulty" db:"difficulty"`
	LastRetrievability *float64   `json:"last_retrievability" db:"last_retrievability"`
	LastReviewedAt     *time.Time `json:"last_reviewed_at" db:"last_reviewed_at"`
	DueAt              *time.Time `json:"due_at" db:"due_at"`
	ReviewCount        int        `json:"review_count" db:"review_count"`
	LapseCount         int        `json:"lapse_count" db:"lapse_count"`
	Version            int64      `json:"-" db:"version"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
