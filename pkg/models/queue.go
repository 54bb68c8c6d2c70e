package models

import (
	"time"

	"github.com/google/uuid"
)

// Queue scopes.
const (
	QueueScopeToday = "today"
	QueueScopeWeek  = "week"
)

// Queue buckets. Items between tomorrow and the end of the week fall into
// day_2 .. day_6 buckets.
const (
	BucketOverdue  = "overdue"
	BucketToday    = "today"
	BucketTomorrow = "tomorrow"
	BucketLater    = "later"
)

// QueueItem is one ranked entry of the review queue.
type QueueItem struct {
	ConceptID      uuid.UUID `json:"concept_id"`
	ConceptName    string    `json:"concept_name,omitempty"`
	ThemeName      string    `json:"theme_name,omitempty"`
	BlockName      string    `json:"block_name,omitempty"`
	DueAt          time.Time `json:"due_at"`
	Stability      float64   `json:"stability"`
	Difficulty     float64   `json:"difficulty"`
	Retrievability float64   `json:"retrievability"`
	PriorityScore  float64   `json:"priority_score"`
	IsOverdue      bool      `json:"is_overdue"`
	DaysOverdue    float64   `json:"days_overdue"`
	Bucket         string    `json:"bucket"`
}

// QueueResponse is the ranked review queue for a scope window.
type QueueResponse struct {
	Scope    string      `json:"scope"`
	TotalDue int         `json:"total_due"`
	Items    []QueueItem `json:"items"`
}

// UserStats are the aggregate scheduling counts for one learner.
type UserStats struct {
	TotalConcepts          int        `json:"total_concepts"`
	DueToday               int        `json:"due_today"`
	DueThisWeek            int        `json:"due_this_week"`
	TotalReviews           int        `json:"total_reviews"`
	HasPersonalizedWeights bool       `json:"has_personalized_weights"`
	LastTrainedAt          *time.Time `json:"last_trained_at"`
}
