package trainer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/recallengine/internal/logger"
	"github.com/example/recallengine/internal/srs"
	"github.com/example/recallengine/pkg/models"
)

// ErrInsufficientData is returned when a user's log count is below the
// training minimum. In a batch it becomes a failed summary, never an abort.
var ErrInsufficientData = errors.New("insufficient review logs for training")

// Options control one training run.
type Options struct {
	MinLogs        int
	ValSplit       float64
	ShrinkageAlpha *float64 // auto-computed from log count when nil
	MaxIterations  int
	LearningRate   float64
	Timeout        time.Duration
	Concurrency    int // batch only
}

func (o Options) withDefaults() Options {
	if o.MinLogs <= 0 {
		o.MinLogs = 300
	}
	if o.ValSplit < 0.1 || o.ValSplit > 0.4 {
		o.ValSplit = 0.2
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 80
	}
	if o.LearningRate <= 0 {
		o.LearningRate = 0.05
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Result is one successful fit, ready for publication as a ParameterSet.
type Result struct {
	Weights          models.WeightVector
	ShrinkageAlpha   float64
	OptimalRetention float64
	Summary          models.TrainingSummary
}

// Trainer fits personalized memory-model weights from review logs. The
// global weight vector is explicit configuration: it seeds the optimizer,
// anchors the shrinkage blend, and provides the validation baseline, so a
// run touches no shared state.
type Trainer struct {
	global models.WeightVector
	log    *logger.Logger
}

// New creates a trainer around the given population prior.
func New(global models.WeightVector, log *logger.Logger) *Trainer {
	if len(global) != srs.WeightCount {
		global = srs.DefaultWeights()
	}
	return &Trainer{global: global, log: log}
}

// Train fits weights for one user. The log is split chronologically: the
// prefix trains, the suffix validates. On any failure the returned summary
// explains it and the error is non-nil. Nothing is published here either
// way; publication belongs to the caller and happens only on success.
func (t *Trainer) Train(ctx context.Context, userID uuid.UUID, logs []models.ReviewLogEntry, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	summary := models.TrainingSummary{UserID: userID, NLogs: len(logs)}

	if len(logs) < opts.MinLogs {
		summary.Message = fmt.Sprintf("insufficient data: %d logs, need %d", len(logs), opts.MinLogs)
		return &Result{Summary: summary}, ErrInsufficientData
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	sorted := make([]models.ReviewLogEntry, len(logs))
	copy(sorted, logs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReviewedAt.Before(sorted[j].ReviewedAt)
	})

	splitIdx := len(sorted) - int(float64(len(sorted))*opts.ValSplit)
	if splitIdx <= 0 || splitIdx >= len(sorted) {
		summary.Message = "validation split left no usable data"
		return &Result{Summary: summary}, fmt.Errorf("failed to split %d logs at ratio %v", len(sorted), opts.ValSplit)
	}

	fitted, err := t.fit(ctx, sorted, splitIdx, opts)
	if err != nil {
		summary.Message = fmt.Sprintf("optimization failed: %v", err)
		return &Result{Summary: summary}, err
	}

	alpha := autoAlpha(len(sorted), opts.MinLogs)
	if opts.ShrinkageAlpha != nil {
		alpha = clamp01(*opts.ShrinkageAlpha)
	}
	final := blend(t.global, fitted, alpha)

	valLogLoss, valBrier, nVal := evaluate(final, sorted, splitIdx, len(sorted))
	baseLogLoss, _, _ := evaluate(t.global, sorted, splitIdx, len(sorted))
	if nVal == 0 || !isFinite(valLogLoss) || !isFinite(baseLogLoss) {
		summary.Message = "validation produced no finite metrics"
		return &Result{Summary: summary}, fmt.Errorf("failed to validate fit: non-finite metrics")
	}

	improvement := 0.0
	if baseLogLoss > 0 {
		improvement = (baseLogLoss - valLogLoss) / baseLogLoss
	}

	retention := optimalRetention(final, sorted)

	summary.Success = true
	summary.Message = fmt.Sprintf("trained on %d logs, validated on %d", splitIdx, nVal)
	summary.ValLogLoss = valLogLoss
	summary.ValBrier = valBrier
	summary.BaselineLogLoss = baseLogLoss
	summary.Improvement = improvement
	summary.ShrinkageAlpha = alpha
	summary.OptimalRetention = retention

	return &Result{
		Weights:          final,
		ShrinkageAlpha:   alpha,
		OptimalRetention: retention,
		Summary:          summary,
	}, nil
}

// Job is one user's training input.
type Job struct {
	UserID uuid.UUID
	Logs   []models.ReviewLogEntry
}

// PublishFunc persists one successful result. A publish failure flips that
// user's summary to failed without touching the others.
type PublishFunc func(ctx context.Context, userID uuid.UUID, res *Result) error

// TrainBatch trains users independently under a bounded worker pool. One
// user's failure never aborts the siblings; every user gets a summary.
func (t *Trainer) TrainBatch(ctx context.Context, jobs []Job, opts Options, publish PublishFunc) *models.BatchTrainResult {
	opts = opts.withDefaults()
	summaries := make([]models.TrainingSummary, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := t.Train(gctx, job.UserID, job.Logs, opts)
			if err != nil {
				t.log.Warn("training run failed", "user_id", job.UserID, "error", err)
				summaries[i] = res.Summary
				return nil
			}
			if publish != nil {
				if perr := publish(gctx, job.UserID, res); perr != nil {
					t.log.Error("failed to publish parameter set", "user_id", job.UserID, "error", perr)
					res.Summary.Success = false
					res.Summary.Message = fmt.Sprintf("publication failed: %v", perr)
				}
			}
			summaries[i] = res.Summary
			return nil
		})
	}
	_ = g.Wait()

	result := &models.BatchTrainResult{TotalUsers: len(jobs), Summaries: summaries}
	for _, s := range summaries {
		if s.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}
	return result
}

// fit runs finite-difference gradient descent on the training-prefix
// log-loss, seeded from the global vector and clamped to the weight bounds
// every step. The step size backs off when a step fails to improve.
func (t *Trainer) fit(ctx context.Context, logs []models.ReviewLogEntry, splitIdx int, opts Options) (models.WeightVector, error) {
	bounds := srs.WeightBounds()
	w := make(models.WeightVector, srs.WeightCount)
	copy(w, t.global)

	best := make(models.WeightVector, srs.WeightCount)
	copy(best, w)
	bestLoss, _, n := evaluate(w, logs, 0, splitIdx)
	if n == 0 {
		return nil, fmt.Errorf("training prefix has no scorable entries")
	}
	if !isFinite(bestLoss) {
		return nil, fmt.Errorf("seed loss is not finite")
	}

	lr := opts.LearningRate
	const eps = 1e-3
	for iter := 0; iter < opts.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("training budget exhausted after %d iterations: %w", iter, ctx.Err())
		default:
		}

		grad := make([]float64, srs.WeightCount)
		for i := range w {
			probe := make(models.WeightVector, srs.WeightCount)
			copy(probe, w)
			probe[i] = clamp(probe[i]+eps, bounds[i][0], bounds[i][1])
			step := probe[i] - w[i]
			if step == 0 {
				probe[i] = clamp(w[i]-eps, bounds[i][0], bounds[i][1])
				step = probe[i] - w[i]
				if step == 0 {
					continue
				}
			}
			loss, _, _ := evaluate(probe, logs, 0, splitIdx)
			if !isFinite(loss) {
				return nil, fmt.Errorf("loss diverged probing weight %d", i)
			}
			grad[i] = (loss - bestLoss) / step
		}

		next := make(models.WeightVector, srs.WeightCount)
		for i := range w {
			span := bounds[i][1] - bounds[i][0]
			next[i] = clamp(w[i]-lr*span*grad[i], bounds[i][0], bounds[i][1])
		}

		loss, _, _ := evaluate(next, logs, 0, splitIdx)
		if !isFinite(loss) {
			return nil, fmt.Errorf("loss diverged at iteration %d", iter)
		}
		if loss < bestLoss-1e-9 {
			copy(best, next)
			copy(w, next)
			bestLoss = loss
		} else {
			lr *= 0.5
			if lr < 1e-4 {
				break
			}
		}
	}
	return best, nil
}

// autoAlpha trusts the personalized fit more as evidence accumulates:
// 1 at the training minimum, decaying toward 0.
func autoAlpha(nLogs, minLogs int) float64 {
	const tau = 500.0
	extra := float64(nLogs - minLogs)
	if extra < 0 {
		extra = 0
	}
	return tau / (tau + extra)
}

func blend(global, fitted models.WeightVector, alpha float64) models.WeightVector {
	out := make(models.WeightVector, len(global))
	for i := range global {
		out[i] = alpha*global[i] + (1-alpha)*fitted[i]
	}
	return out
}

// optimalRetention grid-searches the target retention that balances review
// burden against forgetting on the replayed end-state stabilities.
func optimalRetention(weights models.WeightVector, logs []models.ReviewLogEntry) float64 {
	meanStability := replayEndStability(weights, logs)
	if meanStability <= 0 {
		return 0.9
	}

	const (
		reviewCost    = 1.0
		forgetPenalty = 0.8
	)
	best, bestCost := 0.9, math.Inf(1)
	sched := func(r float64) float64 {
		return -meanStability * srs.DecayConstant * math.Log(r)
	}
	for r := 0.75; r <= 0.951; r += 0.01 {
		interval := sched(r)
		if interval <= 0 {
			continue
		}
		cost := reviewCost/interval + forgetPenalty*(1.0-r)
		if cost < bestCost {
			bestCost = cost
			best = math.Round(r*100) / 100
		}
	}
	return best
}

type prediction struct {
	p       float64
	correct bool
}

// evaluate replays the whole log under the given weights and scores the
// entries whose global index falls in [from, to). First sightings of a
// concept carry no prediction and are skipped. Returns mean log-loss, mean
// Brier score and the number of scored entries.
func evaluate(weights models.WeightVector, logs []models.ReviewLogEntry, from, to int) (float64, float64, int) {
	preds := replay(weights, logs, from, to)
	if len(preds) == 0 {
		return math.NaN(), math.NaN(), 0
	}
	var ll, br float64
	for _, pr := range preds {
		p := clamp(pr.p, 1e-6, 1-1e-6)
		y := 0.0
		if pr.correct {
			y = 1.0
		}
		ll += -(y*math.Log(p) + (1-y)*math.Log(1-p))
		br += (p - y) * (p - y)
	}
	n := float64(len(preds))
	return ll / n, br / n, len(preds)
}

type simState struct {
	stability  float64
	difficulty float64
	seen       bool
}

// replay walks the chronological log, advancing a simulated memory state per
// concept exactly the way the online state machine does, and collects the
// predictions made for the scored index range.
func replay(weights models.WeightVector, logs []models.ReviewLogEntry, from, to int) []prediction {
	sched := srs.New(weights, 0.9)
	states := make(map[uuid.UUID]*simState)
	var preds []prediction

	for i, entry := range logs {
		st, ok := states[entry.ConceptID]
		if !ok {
			st = &simState{}
			states[entry.ConceptID] = st
		}
		r := srs.Rating(entry.Rating)
		if !r.Valid() {
			continue
		}

		if !st.seen {
			st.stability = sched.InitStability(r)
			st.difficulty = sched.InitDifficulty(r)
			st.seen = true
			continue
		}

		delta := entry.DeltaDays
		if delta < 0 {
			delta = 0
		}
		retr := srs.Retrievability(delta, st.stability)
		if i >= from && i < to {
			preds = append(preds, prediction{p: retr, correct: entry.Correct})
		}

		oldDifficulty := st.difficulty
		st.difficulty = sched.NextDifficulty(st.difficulty, r)
		st.stability = sched.NextStability(st.stability, oldDifficulty, retr, r)
	}
	return preds
}

// replayEndStability replays the full log and returns the mean stability of
// the surviving per-concept states.
func replayEndStability(weights models.WeightVector, logs []models.ReviewLogEntry) float64 {
	sched := srs.New(weights, 0.9)
	states := make(map[uuid.UUID]*simState)
	for _, entry := range logs {
		r := srs.Rating(entry.Rating)
		if !r.Valid() {
			continue
		}
		st, ok := states[entry.ConceptID]
		if !ok {
			st = &simState{}
			states[entry.ConceptID] = st
		}
		if !st.seen {
			st.stability = sched.InitStability(r)
			st.difficulty = sched.InitDifficulty(r)
			st.seen = true
			continue
		}
		delta := entry.DeltaDays
		if delta < 0 {
			delta = 0
		}
		retr := srs.Retrievability(delta, st.stability)
		oldDifficulty := st.difficulty
		st.difficulty = sched.NextDifficulty(st.difficulty, r)
		st.stability = sched.NextStability(st.stability, oldDifficulty, retr, r)
	}
	if len(states) == 0 {
		return 0
	}
	var sum float64
	for _, st := range states {
		sum += st.stability
	}
	return sum / float64(len(states))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
