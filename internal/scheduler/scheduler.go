package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"

	"github.com/example/recallengine/internal/config"
	"github.com/example/recallengine/internal/logger"
	"github.com/example/recallengine/internal/trainer"
	"github.com/example/recallengine/pkg/models"
)

// BatchTrainer is the slice of the engine the scheduler drives.
type BatchTrainer interface {
	TrainableUsers(ctx context.Context, minLogs int) ([]uuid.UUID, error)
	TrainBatch(ctx context.Context, userIDs []uuid.UUID, opts trainer.Options) (*models.BatchTrainResult, error)
}

// Scheduler runs the nightly batch-training job off the request path.
type Scheduler struct {
	scheduler *gocron.Scheduler
	engine    BatchTrainer
	cfg       *config.Config
	log       *logger.Logger
}

// New creates a scheduler instance
func New(engine BatchTrainer, cfg *config.Config, log *logger.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		engine:    engine,
		cfg:       cfg,
		log:       log,
	}
}

// Start begins running all scheduled tasks. The context bounds every job the
// scheduler spawns, so cancelling it aborts an in-flight nightly run.
func (s *Scheduler) Start(ctx context.Context) {
	at := fmt.Sprintf("%02d:00", s.cfg.TrainHourUTC%24)
	s.scheduler.Every(1).Day().At(at).Do(func() { s.runNightlyTraining(ctx) })
	s.scheduler.StartAsync()
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

// runNightlyTraining trains every user whose review log has reached the
// training minimum. Per-user failures are already isolated inside the batch;
// the job only reports the aggregate.
func (s *Scheduler) runNightlyTraining(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, 2*time.Hour)
	defer cancel()

	users, err := s.engine.TrainableUsers(ctx, s.cfg.TrainMinLogs)
	if err != nil {
		s.log.Error("failed to list trainable users", "error", err)
		return
	}
	if len(users) == 0 {
		s.log.Info("nightly training: no eligible users")
		return
	}

	result, err := s.engine.TrainBatch(ctx, users, s.trainOptions())
	if err != nil {
		s.log.Error("nightly training batch failed", "error", err)
		return
	}
	s.log.Info("nightly training finished",
		"total", result.TotalUsers,
		"successful", result.Successful,
		"failed", result.Failed)
}

// RunManualBatch forces an immediate batch run for specific users.
func (s *Scheduler) RunManualBatch(ctx context.Context, userIDs []uuid.UUID) (*models.BatchTrainResult, error) {
	return s.engine.TrainBatch(ctx, userIDs, s.trainOptions())
}

func (s *Scheduler) trainOptions() trainer.Options {
	return trainer.Options{
		MinLogs:       s.cfg.TrainMinLogs,
		ValSplit:      s.cfg.TrainValSplit,
		MaxIterations: s.cfg.TrainMaxIterations,
		LearningRate:  s.cfg.TrainLearningRate,
		Timeout:       s.cfg.TrainTimeout,
		Concurrency:   s.cfg.TrainConcurrency,
	}
}
