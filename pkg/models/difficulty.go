package models

import (
	"time"

	"github.com/google/uuid"
)

// ConceptDifficulty is the Elo calibration state for a concept: a single
// rating on a 0-100 scale plus the number of attempts that shaped it.
// The observation count drives the dynamic learning rate, so early attempts
// move the rating fast and later ones refine it.
type ConceptDifficulty struct {
	ConceptID     uuid.UUID `json:"concept_id" db:"concept_id"`
	Rating        float64   `json:"rating" db:"rating"`
	NObservations int       `json:"n_observations" db:"n_observations"`
	Version       int64     `json:"-" db:"version"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// UserAbility is the learner-side counterpart of ConceptDifficulty, updated
// by the same Elo pass with the mirrored delta. It supplies the ability
// estimate the difficulty update needs.
type UserAbility struct {
	UserID        uuid.UUID `json:"user_id" db:"user_id"`
	Rating        float64   `json:"rating" db:"rating"`
	NObservations int       `json:"n_observations" db:"n_observations"`
	Version       int64     `json:"-" db:"version"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
