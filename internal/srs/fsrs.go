package srs

import (
	"errors"
	"math"
	"time"

	"github.com/example/recallengine/pkg/models"
)

// ErrInvalidRating is returned for ratings outside the 1-4 scale.
var ErrInvalidRating = errors.New("invalid rating: must be between 1 and 4")

// Rating is the ordinal review outcome.
type Rating int

const (
	Again Rating = 1 // failed, no recall
	Hard  Rating = 2 // failed, answer felt familiar
	Good  Rating = 3 // correct with effort
	Easy  Rating = 4 // correct without hesitation
)

// Valid reports whether the rating is on the 1-4 scale.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

// Success reports whether the rating counts as a successful recall. The
// success threshold is Good: it is also the correctness boundary of the
// review log.
func (r Rating) Success() bool {
	return r >= Good
}

// Model constants that are structural rather than trainable.
const (
	// WeightCount is the length of the trainable weight vector.
	WeightCount = 17

	// DecayConstant scales the exponential forgetting curve so that
	// retrievability reaches 0.9 exactly one stability away from the last
	// review: R(t) = exp(-t / (S * DecayConstant)).
	DecayConstant = 9.491221581029301 // 1 / ln(1/0.9)

	// MinStability keeps the state machine out of degenerate intervals.
	MinStability = 0.01
	// MaxStability caps runaway growth at ten years.
	MaxStability = 3650.0

	// Difficulty clamp bounds.
	MinDifficulty = 1.0
	MaxDifficulty = 10.0
)

// DefaultWeights is the population prior for the weight vector. Indices:
//
//	w0..w3   initial stability for ratings 1..4
//	w4, w5   initial difficulty intercept and rating slope
//	w6       difficulty rating slope on later reviews
//	w7       difficulty mean-reversion strength
//	w8..w10  stability growth on success
//	w11..w14 stability collapse on failure
//	w15      hard multiplier softening the collapse for rating 2
//	w16      easy bonus on rating 4
func DefaultWeights() models.WeightVector {
	return models.WeightVector{
		0.4872, 1.4003, 3.7145, 13.8206,
		5.1618, 1.2298,
		0.8975, 0.0793,
		1.6474, 0.1367, 1.0461,
		2.1072, 0.0793, 0.3246, 1.587,
		1.2, 2.8755,
	}
}

// WeightBounds returns the per-weight clamp range the trainer keeps the fit
// inside. The bounds are wide; they exist to stop optimizer excursions, not
// to encode pedagogy.
func WeightBounds() [][2]float64 {
	return [][2]float64{
		{0.01, 10}, {0.01, 20}, {0.01, 40}, {0.01, 100},
		{1, 10}, {0.01, 4},
		{0.01, 4}, {0, 0.9},
		{0.01, 4}, {0.01, 1}, {0.01, 4},
		{0.01, 6}, {0.01, 2}, {0.01, 2}, {0.01, 4},
		{1, 4}, {1, 6},
	}
}

// Scheduler advances memory state under one weight vector and one target
// retention. It is a pure calculator: persistence and log appends belong to
// the caller.
type Scheduler struct {
	weights         models.WeightVector
	targetRetention float64
}

// New creates a scheduler. Weight vectors of the wrong length fall back to
// the population prior; target retentions outside (0,1) fall back to 0.9.
func New(weights models.WeightVector, targetRetention float64) *Scheduler {
	if len(weights) != WeightCount {
		weights = DefaultWeights()
	}
	if targetRetention <= 0 || targetRetention >= 1 {
		targetRetention = 0.9
	}
	return &Scheduler{weights: weights, targetRetention: targetRetention}
}

// TargetRetention returns the retention the scheduler aims for.
func (s *Scheduler) TargetRetention() float64 {
	return s.targetRetention
}

// Weights returns the governing weight vector.
func (s *Scheduler) Weights() models.WeightVector {
	return s.weights
}

// Retrievability is the estimated recall probability after elapsedDays with
// the given stability. Monotone non-increasing in elapsed time.
func Retrievability(elapsedDays, stability float64) float64 {
	if stability < MinStability {
		stability = MinStability
	}
	if elapsedDays <= 0 {
		return 1.0
	}
	return math.Exp(-elapsedDays / (stability * DecayConstant))
}

// Interval inverts the forgetting curve: the elapsed days at which
// retrievability decays to the target retention.
func (s *Scheduler) Interval(stability float64) float64 {
	return -stability * DecayConstant * math.Log(s.targetRetention)
}

// InitStability maps a first rating to an initial stability.
func (s *Scheduler) InitStability(r Rating) float64 {
	return clamp(s.weights[r-1], MinStability, MaxStability)
}

// InitDifficulty maps a first rating to an initial difficulty.
func (s *Scheduler) InitDifficulty(r Rating) float64 {
	return clamp(s.weights[4]-s.weights[5]*float64(r-Good), MinDifficulty, MaxDifficulty)
}

// NextDifficulty moves difficulty down on good ratings, up on failures, with
// mean reversion toward the neutral first-rating difficulty.
func (s *Scheduler) NextDifficulty(difficulty float64, r Rating) float64 {
	moved := difficulty - s.weights[6]*float64(r-Good)
	reverted := s.weights[7]*s.InitDifficulty(Good) + (1-s.weights[7])*moved
	return clamp(reverted, MinDifficulty, MaxDifficulty)
}

// NextStability dispatches to the success-growth or failure-collapse formula.
func (s *Scheduler) NextStability(stability, difficulty, retrievability float64, r Rating) float64 {
	if r.Success() {
		return s.successStability(stability, difficulty, retrievability, r)
	}
	return s.failureStability(stability, difficulty, retrievability, r)
}

// successStability grows stability. Growth is stronger for easy material
// (low difficulty), for already-shaky memories (low retrievability) and for
// an Easy rating.
func (s *Scheduler) successStability(stability, difficulty, retrievability float64, r Rating) float64 {
	easyBonus := 1.0
	if r == Easy {
		easyBonus = s.weights[16]
	}
	growth := math.Exp(s.weights[8]) *
		(11.0 - difficulty) *
		math.Pow(stability, -s.weights[9]) *
		(math.Exp((1.0-retrievability)*s.weights[10]) - 1.0) *
		easyBonus
	next := stability * (1.0 + growth)
	if next < stability {
		next = stability
	}
	return clamp(next, MinStability, MaxStability)
}

// failureStability collapses stability. A lapse at low retrievability was
// expected and collapses less; Hard softens the collapse versus Again.
func (s *Scheduler) failureStability(stability, difficulty, retrievability float64, r Rating) float64 {
	hardFactor := 1.0
	if r == Hard {
		hardFactor = s.weights[15]
	}
	next := s.weights[11] *
		math.Pow(difficulty, -s.weights[12]) *
		(math.Pow(stability+1.0, s.weights[13]) - 1.0) *
		math.Exp((1.0-retrievability)*s.weights[14]) *
		hardFactor
	if next > stability {
		next = stability
	}
	return clamp(next, MinStability, MaxStability)
}

// ReviewOutcome reports what a transition computed, for the caller to log.
type ReviewOutcome struct {
	DeltaDays               float64
	PredictedRetrievability *float64
	ClockSkewClamped        bool
}

// Review advances the memory state for one rating at the given time and
// returns the log-relevant intermediates. Unseen pairs are initialized from
// the first-rating mapping; reviewed pairs advance through the
// difficulty/stability formulas. due_at always lands at or after the review
// time. Negative elapsed time (clock skew or an out-of-order event) is
// clamped to zero and flagged in the outcome.
func (s *Scheduler) Review(st *models.MemoryState, r Rating, now time.Time) (ReviewOutcome, error) {
	var out ReviewOutcome
	if !r.Valid() {
		return out, ErrInvalidRating
	}

	switch st.State {
	case models.MemoryStateLearning, models.MemoryStateReviewed:
		deltaDays := 0.0
		if st.LastReviewedAt != nil {
			deltaDays = now.Sub(*st.LastReviewedAt).Hours() / 24.0
		}
		if deltaDays < 0 {
			deltaDays = 0
			out.ClockSkewClamped = true
		}
		out.DeltaDays = deltaDays

		retr := Retrievability(deltaDays, st.Stability)
		out.PredictedRetrievability = &retr

		// Stability reads the difficulty the memory was reviewed under, not
		// the refreshed one.
		oldDifficulty := st.Difficulty
		st.Difficulty = s.NextDifficulty(st.Difficulty, r)
		st.Stability = s.NextStability(st.Stability, oldDifficulty, retr, r)
		st.State = models.MemoryStateReviewed
		st.LastRetrievability = &retr
	default:
		// First review: Unseen -> Learning on a failure, Unseen -> Reviewed
		// on a success.
		st.Stability = s.InitStability(r)
		st.Difficulty = s.InitDifficulty(r)
		if r.Success() {
			st.State = models.MemoryStateReviewed
		} else {
			st.State = models.MemoryStateLearning
		}
		st.LastRetrievability = nil
	}

	if !r.Success() && st.ReviewCount > 0 {
		st.LapseCount++
	}
	st.ReviewCount++

	reviewedAt := now
	due := now.Add(time.Duration(s.Interval(st.Stability) * 24 * float64(time.Hour)))
	if due.Before(reviewedAt) {
		due = reviewedAt
	}
	st.LastReviewedAt = &reviewedAt
	st.DueAt = &due

	return out, nil
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
