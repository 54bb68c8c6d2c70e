package models

import "github.com/google/uuid"

// TrainingSummary reports one training run for one user. Failed runs carry
// Success=false and a human-readable Message; the metric fields are only
// meaningful when the run succeeded.
type TrainingSummary struct {
	UserID           uuid.UUID `json:"user_id"`
	Success          bool      `json:"success"`
	Message          string    `json:"message"`
	NLogs            int       `json:"n_logs"`
	ValLogLoss       float64   `json:"val_logloss"`
	ValBrier         float64   `json:"val_brier"`
	BaselineLogLoss  float64   `json:"baseline_logloss"`
	Improvement      float64   `json:"improvement"`
	ShrinkageAlpha   float64   `json:"shrinkage_alpha"`
	OptimalRetention float64   `json:"optimal_retention"`
}

// BatchTrainResult aggregates independent per-user training runs.
type BatchTrainResult struct {
	TotalUsers int               `json:"total_users"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Summaries  []TrainingSummary `json:"summaries"`
}
