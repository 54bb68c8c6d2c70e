package models

import (
	"time"

	"github.com/google/uuid"
)

// Concept is a unit of knowledge tracked by the engine. Identity and display
// attributes are managed by the surrounding platform; the engine only owns
// the calibration and scheduling state attached to it.
type Concept struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	ThemeID   uuid.UUID `json:"theme_id" db:"theme_id"`
	ThemeName string    `json:"theme_name" db:"theme_name"`
	BlockID   uuid.UUID `json:"block_id" db:"block_id"`
	BlockName string    `json:"block_name" db:"block_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
