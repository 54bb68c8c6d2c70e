package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/example/recallengine/internal/config"
	"github.com/example/recallengine/internal/database"
	"github.com/example/recallengine/internal/elo"
	"github.com/example/recallengine/internal/logger"
	"github.com/example/recallengine/internal/queue"
	"github.com/example/recallengine/internal/srs"
	"github.com/example/recallengine/internal/trainer"
	"github.com/example/recallengine/pkg/models"
)

// Errors surfaced on the update boundary.
var (
	// ErrInvalidRating mirrors the state machine's rating validation.
	ErrInvalidRating = srs.ErrInvalidRating
	// ErrTransient is returned when the optimistic-retry budget ran out on a
	// contended key. Safe for the caller to retry.
	ErrTransient = errors.New("transient conflict: retries exhausted")
	// ErrTrainingInProgress guards a user against overlapping training runs.
	ErrTrainingInProgress = errors.New("training already in progress for user")
)

// Engine is the calibration and scheduling core. The attempt pipeline feeds
// events into ProcessAttempt; the platform reads queues, stats and state
// back out; training runs publish parameter sets the online path then picks
// up.
type Engine struct {
	cfg *config.Config
	log *logger.Logger

	concepts   *database.ConceptRepository
	difficulty *database.ConceptDifficultyRepository
	abilities  *database.UserAbilityRepository
	states     *database.MemoryStateRepository
	logs       *database.ReviewLogRepository
	params     *database.ParameterSetRepository

	elo     *elo.Model
	queue   *queue.Builder
	trainer *trainer.Trainer

	// inFlight serializes training per user; cross-user runs proceed freely.
	inFlight sync.Map
}

// New wires the engine from configuration. The database connection must be
// established first.
func New(cfg *config.Config, log *logger.Logger) *Engine {
	eloCfg := elo.Config{
		Scale:         cfg.EloScale,
		K0:            cfg.EloK0,
		KMin:          cfg.EloKMin,
		WarmupCount:   cfg.EloWarmupCount,
		DefaultRating: cfg.EloDefaultRating,
	}
	return &Engine{
		cfg:        cfg,
		log:        log,
		concepts:   database.NewConceptRepository(),
		difficulty: database.NewConceptDifficultyRepository(),
		abilities:  database.NewUserAbilityRepository(),
		states:     database.NewMemoryStateRepository(),
		logs:       database.NewReviewLogRepository(),
		params:     database.NewParameterSetRepository(),
		elo:        elo.New(eloCfg),
		queue:      queue.New(),
		trainer:    trainer.New(srs.DefaultWeights(), log),
	}
}

// schedulerFor selects the weight vector and target retention governing a
// user: the active personalized parameter set when one exists, the
// population defaults otherwise.
func (e *Engine) schedulerFor(ctx context.Context, userID uuid.UUID) (*srs.Scheduler, error) {
	ps, err := e.params.GetActive(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return srs.New(srs.DefaultWeights(), e.cfg.TargetRetention), nil
	}
	if err != nil {
		return nil, err
	}
	return srs.New(ps.Weights, ps.OptimalRetention), nil
}

// ProcessAttempt absorbs one graded attempt: for every touched concept it
// advances the memory state, appends exactly one review-log entry and
// refines the Elo calibration. Validation failures reject the whole event
// before any state moves. Per-concept writes are serialized against
// concurrent reviews of the same pair via versioned updates with a bounded
// retry budget.
func (e *Engine) ProcessAttempt(ctx context.Context, ev models.AttemptEvent) ([]models.ReviewResult, error) {
	rating := srs.Rating(ev.Rating)
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRating, ev.Rating)
	}
	if len(ev.ConceptIDs) == 0 {
		return nil, fmt.Errorf("attempt touches no concepts")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	// Correctness is derived from the rating, consistent with the
	// success/failure split of the state machine.
	correct := rating.Success()

	sched, err := e.schedulerFor(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to select weights: %w", err)
	}

	results := make([]models.ReviewResult, 0, len(ev.ConceptIDs))
	for _, conceptID := range ev.ConceptIDs {
		res, err := e.reviewConcept(ctx, sched, ev, conceptID, rating, correct)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// reviewConcept runs the serialized read-modify-write cycle for one
// (user, concept) pair. The memory-state write and the log append land in one
// transaction, so a transition is never recorded without its log entry and a
// failed cycle leaves both untouched.
func (e *Engine) reviewConcept(ctx context.Context, sched *srs.Scheduler, ev models.AttemptEvent, conceptID uuid.UUID, rating srs.Rating, correct bool) (*models.ReviewResult, error) {
	var st *models.MemoryState
	for attempt := 0; ; attempt++ {
		if attempt > e.cfg.UpdateMaxRetries {
			e.log.Warn("memory state retries exhausted",
				"user_id", ev.UserID, "concept_id", conceptID)
			return nil, ErrTransient
		}

		loaded, err := e.states.Get(ctx, ev.UserID, conceptID)
		created := false
		if errors.Is(err, database.ErrNotFound) {
			loaded = &models.MemoryState{
				UserID:    ev.UserID,
				ConceptID: conceptID,
				State:     models.MemoryStateUnseen,
			}
			created = true
		} else if err != nil {
			return nil, err
		}

		outcome, err := sched.Review(loaded, rating, ev.OccurredAt.UTC())
		if err != nil {
			return nil, err
		}
		if outcome.ClockSkewClamped {
			e.log.Warn("clock skew: negative elapsed time clamped to zero",
				"user_id", ev.UserID, "concept_id", conceptID, "occurred_at", ev.OccurredAt)
		}

		entry := models.ReviewLogEntry{
			UserID:                  ev.UserID,
			ConceptID:               conceptID,
			ReviewedAt:              ev.OccurredAt.UTC(),
			Rating:                  int(rating),
			Correct:                 correct,
			DeltaDays:               outcome.DeltaDays,
			TimeSpentMs:             ev.TimeSpentMs,
			PredictedRetrievability: outcome.PredictedRetrievability,
			SessionID:               ev.SessionID,
		}
		err = database.WithTx(ctx, func(tx *sqlx.Tx) error {
			if created {
				if err := e.states.Create(ctx, tx, loaded); err != nil {
					return err
				}
			} else if err := e.states.UpdateVersioned(ctx, tx, loaded); err != nil {
				return err
			}
			return e.logs.Append(ctx, tx, &entry)
		})
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st = loaded
		break
	}

	retr := 1.0
	if st.LastRetrievability != nil {
		retr = *st.LastRetrievability
	}
	result := &models.ReviewResult{
		ConceptID:      conceptID,
		Rating:         int(rating),
		Stability:      st.Stability,
		Difficulty:     st.Difficulty,
		Retrievability: retr,
		DueAt:          *st.DueAt,
	}

	eloRating, ability, err := e.calibrate(ctx, ev, conceptID, correct)
	if err != nil {
		// Calibration is secondary to scheduling; the review itself has
		// landed, so report and carry on with the rating fields unset.
		e.log.Error("difficulty calibration failed",
			"user_id", ev.UserID, "concept_id", conceptID, "error", err)
	} else {
		result.EloRating = &eloRating
		result.AbilityEstimate = &ability
	}
	return result, nil
}

// calibrate refines the Elo difficulty of the concept and the learner's
// ability estimate, seeding both at the population default on first contact.
// Both rating moves commit in one transaction: a version conflict on either
// row rolls the whole cycle back and the retry recomputes from fresh reads,
// so one attempt never counts more than once on either side.
func (e *Engine) calibrate(ctx context.Context, ev models.AttemptEvent, conceptID uuid.UUID, correct bool) (float64, float64, error) {
	for attempt := 0; ; attempt++ {
		if attempt > e.cfg.UpdateMaxRetries {
			return 0, 0, ErrTransient
		}

		diff, err := e.difficulty.Get(ctx, conceptID)
		diffCreated := false
		if errors.Is(err, database.ErrNotFound) {
			seeded := e.elo.SeedDifficulty(conceptID)
			diff = &seeded
			diffCreated = true
		} else if err != nil {
			return 0, 0, err
		}

		ability, err := e.abilities.Get(ctx, ev.UserID)
		abilityCreated := false
		if errors.Is(err, database.ErrNotFound) {
			seeded := e.elo.SeedAbility(ev.UserID)
			ability = &seeded
			abilityCreated = true
		} else if err != nil {
			return 0, 0, err
		}

		if err := e.elo.Update(diff, ability, correct, ev.IsMultipleChoice, ev.NChoices, ev.OccurredAt.UTC()); err != nil {
			return 0, 0, err
		}

		err = database.WithTx(ctx, func(tx *sqlx.Tx) error {
			if diffCreated {
				if err := e.difficulty.Create(ctx, tx, diff); err != nil {
					return err
				}
			} else if err := e.difficulty.UpdateVersioned(ctx, tx, diff); err != nil {
				return err
			}
			if abilityCreated {
				return e.abilities.Create(ctx, tx, ability)
			}
			return e.abilities.UpdateVersioned(ctx, tx, ability)
		})
		if errors.Is(err, database.ErrConflict) {
			continue
		}
		if err != nil {
			return 0, 0, err
		}
		return diff.Rating, ability.Rating, nil
	}
}

// BuildQueue returns the ranked review queue for a scope window.
func (e *Engine) BuildQueue(ctx context.Context, userID uuid.UUID, scope string) (*models.QueueResponse, error) {
	if scope != models.QueueScopeToday && scope != models.QueueScopeWeek {
		return nil, fmt.Errorf("unrecognized queue scope %q", scope)
	}
	now := time.Now().UTC()
	states, err := e.states.GetDue(ctx, userID, queue.WindowEnd(scope, now))
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.ConceptID)
	}
	conceptRows, err := e.concepts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	named := make(map[string]models.Concept, len(conceptRows))
	for id, c := range conceptRows {
		named[id.String()] = c
	}
	return e.queue.Build(states, named, scope, now), nil
}

// Stats returns the aggregate scheduling counts for a learner.
func (e *Engine) Stats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	now := time.Now().UTC()
	stats := &models.UserStats{}

	var err error
	if stats.TotalConcepts, err = e.states.CountByUser(ctx, userID); err != nil {
		return nil, err
	}
	if stats.DueToday, err = e.states.CountDueBefore(ctx, userID, queue.WindowEnd(models.QueueScopeToday, now)); err != nil {
		return nil, err
	}
	if stats.DueThisWeek, err = e.states.CountDueBefore(ctx, userID, queue.WindowEnd(models.QueueScopeWeek, now)); err != nil {
		return nil, err
	}
	if stats.TotalReviews, err = e.logs.CountByUser(ctx, userID); err != nil {
		return nil, err
	}

	ps, err := e.params.GetActive(ctx, userID)
	if err == nil {
		stats.HasPersonalizedWeights = true
		stats.LastTrainedAt = &ps.CreatedAt
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	return stats, nil
}

// ConceptState returns the current memory state snapshot for one pair.
func (e *Engine) ConceptState(ctx context.Context, userID, conceptID uuid.UUID) (*models.MemoryState, error) {
	return e.states.Get(ctx, userID, conceptID)
}

// ReviewLog returns a page of review history, newest first, optionally
// narrowed to one concept.
func (e *Engine) ReviewLog(ctx context.Context, userID uuid.UUID, conceptID *uuid.UUID, limit, offset int) ([]models.ReviewLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return e.logs.ListPage(ctx, userID, conceptID, limit, offset)
}

// TrainUser runs one training pass for a user and publishes the resulting
// parameter set. Runs for the same user are mutually exclusive; runs for
// different users proceed in parallel.
func (e *Engine) TrainUser(ctx context.Context, userID uuid.UUID, opts trainer.Options) (models.TrainingSummary, error) {
	if _, loaded := e.inFlight.LoadOrStore(userID, struct{}{}); loaded {
		return models.TrainingSummary{UserID: userID, Message: "training already in progress"}, ErrTrainingInProgress
	}
	defer e.inFlight.Delete(userID)

	logs, err := e.logs.ListByUser(ctx, userID)
	if err != nil {
		return models.TrainingSummary{UserID: userID, Message: err.Error()}, err
	}

	res, err := e.trainer.Train(ctx, userID, logs, opts)
	if err != nil {
		return res.Summary, err
	}
	if err := e.publish(ctx, userID, res); err != nil {
		res.Summary.Success = false
		res.Summary.Message = fmt.Sprintf("publication failed: %v", err)
		return res.Summary, err
	}
	e.log.Info("published personalized weights",
		"user_id", userID,
		"n_logs", res.Summary.NLogs,
		"val_logloss", res.Summary.ValLogLoss,
		"improvement", res.Summary.Improvement,
		"optimal_retention", res.OptimalRetention)
	return res.Summary, nil
}

// TrainBatch trains the given users independently. Per-user failures become
// failed summaries; the batch itself always completes.
func (e *Engine) TrainBatch(ctx context.Context, userIDs []uuid.UUID, opts trainer.Options) (*models.BatchTrainResult, error) {
	jobs := make([]trainer.Job, 0, len(userIDs))
	skipped := make([]models.TrainingSummary, 0)
	for _, userID := range userIDs {
		if _, loaded := e.inFlight.LoadOrStore(userID, struct{}{}); loaded {
			skipped = append(skipped, models.TrainingSummary{
				UserID: userID, Message: "training already in progress",
			})
			continue
		}
		defer e.inFlight.Delete(userID)

		logs, err := e.logs.ListByUser(ctx, userID)
		if err != nil {
			skipped = append(skipped, models.TrainingSummary{UserID: userID, Message: err.Error()})
			continue
		}
		jobs = append(jobs, trainer.Job{UserID: userID, Logs: logs})
	}

	result := e.trainer.TrainBatch(ctx, jobs, opts, e.publish)
	result.TotalUsers += len(skipped)
	result.Failed += len(skipped)
	result.Summaries = append(result.Summaries, skipped...)
	return result, nil
}

// publish persists one successful training result as a new parameter set.
func (e *Engine) publish(ctx context.Context, userID uuid.UUID, res *trainer.Result) error {
	return e.params.Create(ctx, &models.ParameterSet{
		UserID:           userID,
		Weights:          res.Weights,
		ShrinkageAlpha:   res.ShrinkageAlpha,
		OptimalRetention: res.OptimalRetention,
		ValLogLoss:       res.Summary.ValLogLoss,
		ValBrier:         res.Summary.ValBrier,
		BaselineLogLoss:  res.Summary.BaselineLogLoss,
		Improvement:      res.Summary.Improvement,
		NLogs:            res.Summary.NLogs,
		RunID:            uuid.New(),
	})
}

// TrainableUsers lists the users whose accumulated log count makes them
// eligible for the nightly batch.
func (e *Engine) TrainableUsers(ctx context.Context, minLogs int) ([]uuid.UUID, error) {
	if minLogs <= 0 {
		minLogs = e.cfg.TrainMinLogs
	}
	return e.logs.UsersWithAtLeast(ctx, minLogs)
}
