package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/recallengine/internal/config"
	"github.com/example/recallengine/internal/database"
	"github.com/example/recallengine/internal/logger"
	"github.com/example/recallengine/internal/trainer"
	"github.com/example/recallengine/pkg/models"
)

func setupEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &config.Config{
		DBType:     config.DBTypeSQLite,
		SQLitePath: ":memory:",

		EloScale:         20,
		EloK0:            8,
		EloKMin:          1,
		EloWarmupCount:   10,
		EloDefaultRating: 50,

		TargetRetention: 0.9,

		TrainMinLogs:       300,
		TrainValSplit:      0.2,
		TrainMaxIterations: 10,
		TrainLearningRate:  0.05,
		TrainTimeout:       time.Minute,
		TrainConcurrency:   2,

		UpdateMaxRetries: 3,
	}
	if err := database.Connect(cfg); err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return New(cfg, logger.NewNop())
}

func attempt(userID uuid.UUID, rating int, at time.Time, conceptIDs ...uuid.UUID) models.AttemptEvent {
	return models.AttemptEvent{
		UserID:     userID,
		ConceptIDs: conceptIDs,
		Rating:     rating,
		OccurredAt: at,
	}
}

func TestProcessAttemptCreatesStateLogAndCalibration(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	c1, c2 := uuid.New(), uuid.New()
	at := time.Now().UTC().Add(-time.Hour)

	results, err := e.ProcessAttempt(ctx, attempt(userID, 3, at, c1, c2))
	if err != nil {
		t.Fatalf("process attempt failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a result per concept, got %d", len(results))
	}
	for _, res := range results {
		if res.Stability <= 0 {
			t.Errorf("concept %s: stability not initialized", res.ConceptID)
		}
		if !res.DueAt.After(at) {
			t.Errorf("concept %s: due time should be after the review", res.ConceptID)
		}
		// A correct answer moves difficulty down and ability up from the seed.
		if res.EloRating == nil || *res.EloRating >= 50 {
			t.Errorf("concept %s: difficulty rating should drop below the seed, got %v", res.ConceptID, res.EloRating)
		}
		if res.AbilityEstimate == nil || *res.AbilityEstimate <= 50 {
			t.Errorf("concept %s: ability should rise above the seed, got %v", res.ConceptID, res.AbilityEstimate)
		}
	}

	st, err := e.ConceptState(ctx, userID, c1)
	if err != nil {
		t.Fatalf("state not persisted: %v", err)
	}
	if st.State != models.MemoryStateReviewed || st.ReviewCount != 1 {
		t.Fatalf("unexpected persisted state: %+v", st)
	}

	stats, err := e.Stats(ctx, userID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalConcepts != 2 || stats.TotalReviews != 2 {
		t.Fatalf("expected 2 concepts and 2 logged reviews, got %+v", stats)
	}
	if stats.HasPersonalizedWeights {
		t.Fatalf("no parameter set has been published yet")
	}
}

func TestProcessAttemptRejectsInvalidRating(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()

	if _, err := e.ProcessAttempt(ctx, attempt(userID, 7, time.Now().UTC(), conceptID)); !errors.Is(err, ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, err := e.ConceptState(ctx, userID, conceptID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("a rejected attempt must not create state, got %v", err)
	}
	stats, err := e.Stats(ctx, userID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalReviews != 0 {
		t.Fatalf("a rejected attempt must not append to the log")
	}
}

func TestProcessAttemptRejectsEmptyConceptList(t *testing.T) {
	e := setupEngine(t)
	if _, err := e.ProcessAttempt(context.Background(), attempt(uuid.New(), 3, time.Now().UTC())); err == nil {
		t.Fatalf("an attempt touching no concepts must be rejected")
	}
}

func TestRepeatedReviewsGrowTheSchedule(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()
	base := time.Now().UTC().AddDate(0, 0, -10)

	first, err := e.ProcessAttempt(ctx, attempt(userID, 3, base, conceptID))
	if err != nil {
		t.Fatalf("first review failed: %v", err)
	}
	second, err := e.ProcessAttempt(ctx, attempt(userID, 3, base.AddDate(0, 0, 4), conceptID))
	if err != nil {
		t.Fatalf("second review failed: %v", err)
	}
	if second[0].Stability <= first[0].Stability {
		t.Fatalf("a second success should grow stability: %v -> %v",
			first[0].Stability, second[0].Stability)
	}

	st, err := e.ConceptState(ctx, userID, conceptID)
	if err != nil {
		t.Fatalf("state read failed: %v", err)
	}
	if st.ReviewCount != 2 || st.Version != 1 {
		t.Fatalf("expected review_count=2 version=1, got %+v", st)
	}
}

func TestBuildQueueSurfacesOverdue(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()

	// A lapse two days ago schedules a sub-day interval, so it is overdue now.
	if _, err := e.ProcessAttempt(ctx, attempt(userID, 1, time.Now().UTC().AddDate(0, 0, -2), conceptID)); err != nil {
		t.Fatalf("process attempt failed: %v", err)
	}

	for _, scope := range []string{models.QueueScopeToday, models.QueueScopeWeek} {
		resp, err := e.BuildQueue(ctx, userID, scope)
		if err != nil {
			t.Fatalf("queue build failed for %s: %v", scope, err)
		}
		if resp.TotalDue != 1 {
			t.Fatalf("scope %s: expected the overdue concept, got %d items", scope, resp.TotalDue)
		}
		if !resp.Items[0].IsOverdue || resp.Items[0].Bucket != models.BucketOverdue {
			t.Fatalf("scope %s: item should be overdue: %+v", scope, resp.Items[0])
		}
	}

	if _, err := e.BuildQueue(ctx, userID, "month"); err == nil {
		t.Fatalf("an unrecognized scope must be rejected")
	}
}

func TestBuildQueueCarriesConceptNames(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()

	concept := models.Concept{
		ID:        uuid.New(),
		Name:      "photosynthesis",
		ThemeID:   uuid.New(),
		ThemeName: "plant biology",
		BlockID:   uuid.New(),
		BlockName: "biology",
	}
	if _, err := e.concepts.Upsert(ctx, &concept); err != nil {
		t.Fatalf("concept upsert failed: %v", err)
	}
	if _, err := e.ProcessAttempt(ctx, attempt(userID, 1, time.Now().UTC().AddDate(0, 0, -2), concept.ID)); err != nil {
		t.Fatalf("process attempt failed: %v", err)
	}

	resp, err := e.BuildQueue(ctx, userID, models.QueueScopeWeek)
	if err != nil {
		t.Fatalf("queue build failed: %v", err)
	}
	if resp.Items[0].ConceptName != "photosynthesis" || resp.Items[0].BlockName != "biology" {
		t.Fatalf("queue item missing concept attributes: %+v", resp.Items[0])
	}
}

func TestReviewLogPagination(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	c1, c2 := uuid.New(), uuid.New()
	base := time.Now().UTC().AddDate(0, 0, -5)

	for i := 0; i < 4; i++ {
		conceptID := c1
		if i%2 == 1 {
			conceptID = c2
		}
		if _, err := e.ProcessAttempt(ctx, attempt(userID, 3, base.Add(time.Duration(i)*time.Hour), conceptID)); err != nil {
			t.Fatalf("process attempt failed: %v", err)
		}
	}

	page, err := e.ReviewLog(ctx, userID, nil, 2, 0)
	if err != nil {
		t.Fatalf("review log read failed: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected a page of 2, got %d", len(page))
	}
	if page[0].ReviewedAt.Before(page[1].ReviewedAt) {
		t.Fatalf("review log pages should come newest first")
	}

	filtered, err := e.ReviewLog(ctx, userID, &c1, 10, 0)
	if err != nil {
		t.Fatalf("filtered read failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 entries for the concept, got %d", len(filtered))
	}
	for _, entry := range filtered {
		if entry.ConceptID != c1 {
			t.Fatalf("filter leaked another concept: %+v", entry)
		}
	}
}

func TestTrainUserInsufficientData(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()

	if _, err := e.ProcessAttempt(ctx, attempt(userID, 3, time.Now().UTC(), uuid.New())); err != nil {
		t.Fatalf("process attempt failed: %v", err)
	}

	summary, err := e.TrainUser(ctx, userID, trainer.Options{MinLogs: 50})
	if !errors.Is(err, trainer.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if summary.Success {
		t.Fatalf("summary should report the failure")
	}

	stats, err := e.Stats(ctx, userID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.HasPersonalizedWeights {
		t.Fatalf("a failed run must not publish a parameter set")
	}
}

func TestTrainUserPublishesParameterSet(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()

	concepts := make([]uuid.UUID, 5)
	for i := range concepts {
		concepts[i] = uuid.New()
	}
	base := time.Now().UTC().AddDate(0, 0, -40)
	n := 0
	for round := 0; round < 12; round++ {
		for c, conceptID := range concepts {
			rating := 3
			switch (round + c) % 7 {
			case 0:
				rating = 1
			case 3:
				rating = 4
			}
			at := base.Add(time.Duration(n) * 12 * time.Hour)
			if _, err := e.ProcessAttempt(ctx, attempt(userID, rating, at, conceptID)); err != nil {
				t.Fatalf("process attempt failed: %v", err)
			}
			n++
		}
	}

	users, err := e.TrainableUsers(ctx, 50)
	if err != nil {
		t.Fatalf("trainable users failed: %v", err)
	}
	if len(users) != 1 || users[0] != userID {
		t.Fatalf("expected the user to be trainable, got %v", users)
	}

	opts := trainer.Options{MinLogs: 50, MaxIterations: 3, Timeout: time.Minute}
	summary, err := e.TrainUser(ctx, userID, opts)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}
	if !summary.Success || summary.NLogs != n {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	stats, err := e.Stats(ctx, userID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !stats.HasPersonalizedWeights || stats.LastTrainedAt == nil {
		t.Fatalf("a successful run must publish a parameter set: %+v", stats)
	}

	// The published weights now govern scheduling without erroring.
	if _, err := e.ProcessAttempt(ctx, attempt(userID, 3, time.Now().UTC(), concepts[0])); err != nil {
		t.Fatalf("review under personalized weights failed: %v", err)
	}
}

func TestConcurrentReviewsOfOneKeyCountOnce(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()
	base := time.Now().UTC().AddDate(0, 0, -1)

	// Seed the key serially so the concurrent phase exercises the versioned
	// update path rather than racing inserts.
	seed, err := e.ProcessAttempt(ctx, attempt(userID, 3, base, conceptID))
	if err != nil {
		t.Fatalf("seed attempt failed: %v", err)
	}
	if seed[0].EloRating == nil {
		t.Fatalf("seed attempt should calibrate")
	}

	var (
		mu           sync.Mutex
		reviews      = 1
		calibrations = 1
		wg           sync.WaitGroup
	)
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				at := base.Add(time.Duration(w*5+i+1) * time.Minute)
				results, err := e.ProcessAttempt(ctx, attempt(userID, 3, at, conceptID))
				if err != nil {
					continue
				}
				mu.Lock()
				reviews++
				if results[0].EloRating != nil {
					calibrations++
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	st, err := e.ConceptState(ctx, userID, conceptID)
	if err != nil {
		t.Fatalf("state read failed: %v", err)
	}
	if st.ReviewCount != reviews {
		t.Fatalf("review count %d does not match the %d successful attempts", st.ReviewCount, reviews)
	}
	logged, err := e.logs.CountByUser(ctx, userID)
	if err != nil {
		t.Fatalf("log count failed: %v", err)
	}
	if logged != reviews {
		t.Fatalf("log holds %d entries for %d successful attempts", logged, reviews)
	}
	diff, err := e.difficulty.Get(ctx, conceptID)
	if err != nil {
		t.Fatalf("difficulty read failed: %v", err)
	}
	if diff.NObservations != calibrations {
		t.Fatalf("difficulty observed %d attempts, %d calibrations landed", diff.NObservations, calibrations)
	}
	ability, err := e.abilities.Get(ctx, userID)
	if err != nil {
		t.Fatalf("ability read failed: %v", err)
	}
	if ability.NObservations != calibrations {
		t.Fatalf("ability observed %d attempts, %d calibrations landed", ability.NObservations, calibrations)
	}
}

func TestCalibrationCountsEachAttemptOnceUnderContention(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()
	at := time.Now().UTC().Add(-time.Hour)

	if _, err := e.ProcessAttempt(ctx, attempt(userID, 3, at, conceptID)); err != nil {
		t.Fatalf("seed attempt failed: %v", err)
	}
	seeded, err := e.difficulty.Get(ctx, conceptID)
	if err != nil {
		t.Fatalf("difficulty read failed: %v", err)
	}
	baseline := seeded.NObservations

	// A contender keeps bumping the ability row version so calibration cycles
	// lose their optimistic check mid-flight.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		bump := database.DB.Rebind("UPDATE user_abilities SET version = version + 1 WHERE user_id = ?")
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, _ = database.DB.ExecContext(ctx, bump, userID)
		}
	}()

	successes := 0
	ev := attempt(userID, 3, at, conceptID)
	for i := 0; i < 200; i++ {
		_, _, err := e.calibrate(ctx, ev, conceptID, true)
		if err == nil {
			successes++
		} else if !errors.Is(err, ErrTransient) {
			t.Fatalf("unexpected calibration error: %v", err)
		}
	}
	close(stop)
	wg.Wait()

	diff, err := e.difficulty.Get(ctx, conceptID)
	if err != nil {
		t.Fatalf("difficulty read failed: %v", err)
	}
	if diff.NObservations != baseline+successes {
		t.Fatalf("difficulty observed %d attempts after %d successful calibrations: each success must count exactly once, retries and exhausted cycles not at all",
			diff.NObservations, baseline+successes)
	}
}

func TestFailedLogAppendLeavesStateUntouched(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()
	conceptID := uuid.New()

	if _, err := database.DB.Exec("DROP TABLE review_logs"); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	if _, err := e.ProcessAttempt(ctx, attempt(userID, 3, time.Now().UTC(), conceptID)); err == nil {
		t.Fatalf("the attempt should fail when the log cannot be appended")
	}
	if _, err := e.ConceptState(ctx, userID, conceptID); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("a failed cycle must leave no memory state behind, got %v", err)
	}
}

func TestTrainBatchSkipsDuplicateUsers(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()
	userID := uuid.New()

	res, err := e.TrainBatch(ctx, []uuid.UUID{userID, userID}, trainer.Options{MinLogs: 50})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if res.TotalUsers != 2 || res.Failed != 2 || res.Successful != 0 {
		t.Fatalf("expected both runs to fail, got %+v", res)
	}
	var skipped bool
	for _, s := range res.Summaries {
		if s.Message == "training already in progress" {
			skipped = true
		}
	}
	if !skipped {
		t.Fatalf("the duplicate user should be skipped as in progress: %+v", res.Summaries)
	}
}
