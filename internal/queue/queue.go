package queue

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/recallengine/internal/srs"
	"github.com/example/recallengine/pkg/models"
)

// Builder projects memory states into a ranked review queue. It never
// mutates state.
type Builder struct{}

// New creates a queue builder.
func New() *Builder {
	return &Builder{}
}

// WindowEnd returns the inclusive end of the scope window: end of the
// current UTC day for "today", seven days out for "week".
func WindowEnd(scope string, now time.Time) time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	switch scope {
	case models.QueueScopeWeek:
		return day.AddDate(0, 0, 7)
	default:
		return day.AddDate(0, 0, 1)
	}
}

// Build ranks the given states. The caller supplies every state due within
// the window (overdue included) plus the concept display attributes.
func (b *Builder) Build(states []models.MemoryState, concepts map[string]models.Concept, scope string, now time.Time) *models.QueueResponse {
	now = now.UTC()
	items := make([]models.QueueItem, 0, len(states))
	for _, st := range states {
		if st.DueAt == nil {
			continue
		}
		item := models.QueueItem{
			ConceptID:  st.ConceptID,
			DueAt:      *st.DueAt,
			Stability:  st.Stability,
			Difficulty: st.Difficulty,
		}
		if c, ok := concepts[st.ConceptID.String()]; ok {
			item.ConceptName = c.Name
			item.ThemeName = c.ThemeName
			item.BlockName = c.BlockName
		}

		elapsed := 0.0
		if st.LastReviewedAt != nil {
			elapsed = now.Sub(*st.LastReviewedAt).Hours() / 24.0
		}
		item.Retrievability = srs.Retrievability(elapsed, st.Stability)

		if st.DueAt.Before(now) {
			item.IsOverdue = true
			item.DaysOverdue = now.Sub(*st.DueAt).Hours() / 24.0
		}
		item.Bucket = bucket(*st.DueAt, now)
		item.PriorityScore = priority(item, now)
		items = append(items, item)
	}

	// Overdue first, most overdue first; then ascending due time; ties go to
	// the higher priority score.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].IsOverdue != items[j].IsOverdue {
			return items[i].IsOverdue
		}
		if !items[i].DueAt.Equal(items[j].DueAt) {
			return items[i].DueAt.Before(items[j].DueAt)
		}
		return items[i].PriorityScore > items[j].PriorityScore
	})

	return &models.QueueResponse{
		Scope:    scope,
		TotalDue: len(items),
		Items:    items,
	}
}

// bucket labels an item by the day its due time falls in.
func bucket(due, now time.Time) string {
	if due.Before(now) {
		return models.BucketOverdue
	}
	startOfToday := now.Truncate(24 * time.Hour)
	days := int(math.Floor(due.Sub(startOfToday).Hours() / 24.0))
	switch {
	case days <= 0:
		return models.BucketToday
	case days == 1:
		return models.BucketTomorrow
	case days < 7:
		return fmt.Sprintf("day_%d", days)
	default:
		return models.BucketLater
	}
}

// priority maps overdueness and retrievability onto (0, 1]. More overdue and
// less retrievable means more urgent; items further in the future decay.
func priority(item models.QueueItem, now time.Time) float64 {
	if item.IsOverdue {
		score := 0.5 + 0.1*item.DaysOverdue + 0.2*(1.0-item.Retrievability)
		return math.Min(1.0, score)
	}
	daysUntil := item.DueAt.Sub(now).Hours() / 24.0
	if daysUntil < 0 {
		daysUntil = 0
	}
	score := (0.3 + 0.2*(1.0-item.Retrievability)) / (1.0 + daysUntil)
	return math.Min(1.0, score)
}
