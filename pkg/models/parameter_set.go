package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WeightVector is a memory-model weight vector stored as JSON in a single
// column, so parameter sets stay immutable rows rather than child tables.
type WeightVector []float64

// Value implements driver.Valuer.
func (w WeightVector) Value() (driver.Value, error) {
	b, err := json.Marshal([]float64(w))
	if err != nil {
		return nil, fmt.Errorf("failed to encode weight vector: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *WeightVector) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return json.Unmarshal([]byte(v), (*[]float64)(w))
	case []byte:
		return json.Unmarshal(v, (*[]float64)(w))
	default:
		return fmt.Errorf("failed to scan weight vector from %T", src)
	}
}

// ParameterSet is one published training result. Sets are never mutated:
// each training run inserts a new row and the newest row per user is the
// active one. The nil UUID owns the global population prior.
type ParameterSet struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	UserID           uuid.UUID    `json:"user_id" db:"user_id"`
	Weights          WeightVector `json:"weights" db:"weights"`
	ShrinkageAlpha   float64      `json:"shrinkage_alpha" db:"shrinkage_alpha"`
	OptimalRetention float64      `json:"optimal_retention" db:"optimal_retention"`
	ValLogLoss       float64      `json:"val_logloss" db:"val_logloss"`
	ValBrier         float64      `json:"val_brier" db:"val_brier"`
	BaselineLogLoss  float64      `json:"baseline_logloss" db:"baseline_logloss"`
	Improvement      float64      `json:"improvement" db:"improvement"`
	NLogs            int          `json:"n_logs" db:"n_logs"`
	RunID            uuid.UUID    `json:"run_id" db:"run_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}
