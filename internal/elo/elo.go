package elo

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/example/recallengine/pkg/models"
)

// ErrUnknownConcept is returned when an update targets a concept with no
// difficulty state. The caller must seed the row at the population default
// first.
var ErrUnknownConcept = errors.New("unknown concept: difficulty state not initialized")

// Config holds the calibration constants. Ratings live on a 0-100 axis
// centered at 50.
type Config struct {
	// Scale is the sigmoid steepness: a rating gap equal to Scale moves the
	// expected score by roughly one logistic unit.
	Scale float64
	// K0 is the learning rate for a fresh concept.
	K0 float64
	// KMin is the floor the learning rate decays to.
	KMin float64
	// WarmupCount controls how fast K decays with observations.
	WarmupCount int
	// DefaultRating seeds new concepts and new users.
	DefaultRating float64
}

// DefaultConfig returns the population defaults.
func DefaultConfig() Config {
	return Config{
		Scale:         20.0,
		K0:            8.0,
		KMin:          1.0,
		WarmupCount:   10,
		DefaultRating: 50.0,
	}
}

// Model performs online Elo difficulty calibration with an
// uncertainty-aware dynamic K and a multiple-choice guess floor.
type Model struct {
	cfg Config
}

// New creates a model with the given constants.
func New(cfg Config) *Model {
	return &Model{cfg: cfg}
}

// SeedDifficulty returns a fresh difficulty state at the population mean.
func (m *Model) SeedDifficulty(conceptID uuid.UUID) models.ConceptDifficulty {
	return models.ConceptDifficulty{ConceptID: conceptID, Rating: m.cfg.DefaultRating}
}

// SeedAbility returns a fresh ability state at the population mean.
func (m *Model) SeedAbility(userID uuid.UUID) models.UserAbility {
	return models.UserAbility{UserID: userID, Rating: m.cfg.DefaultRating}
}

// ExpectedScore is the probability a learner with the given ability answers
// an item of the given difficulty correctly.
func (m *Model) ExpectedScore(ability, difficulty float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (difficulty-ability)/m.cfg.Scale))
}

// KFactor decays inversely with the observation count so early ratings move
// fast and converge as evidence accumulates.
func (m *Model) KFactor(nObservations int) float64 {
	k := m.cfg.K0 / (1.0 + float64(nObservations)/float64(m.cfg.WarmupCount))
	if k < m.cfg.KMin {
		return m.cfg.KMin
	}
	return k
}

// AdjustedExpectation blends the expected score with the random-guess
// probability of a multiple-choice item, so a correct guess on a 4-option
// item carries less surprise than a free recall.
func (m *Model) AdjustedExpectation(expected float64, isMultipleChoice bool, nChoices int) float64 {
	if !isMultipleChoice || nChoices <= 1 {
		return expected
	}
	guess := 1.0 / float64(nChoices)
	return expected + (1.0-expected)*guess
}

// Update refines the concept difficulty and the learner ability from one
// graded attempt. Both states are mutated in place; counters are incremented
// and timestamps stamped. Returns ErrUnknownConcept when the difficulty
// state is nil.
func (m *Model) Update(d *models.ConceptDifficulty, a *models.UserAbility, correct, isMultipleChoice bool, nChoices int, now time.Time) error {
	if d == nil {
		return ErrUnknownConcept
	}

	expected := m.ExpectedScore(a.Rating, d.Rating)
	expected = m.AdjustedExpectation(expected, isMultipleChoice, nChoices)

	outcome := 0.0
	if correct {
		outcome = 1.0
	}

	// Outcome above expectation means the item is easier than rated and the
	// learner stronger; the two ratings move by mirrored deltas with their
	// own learning rates.
	surprise := outcome - expected
	d.Rating = clampRating(d.Rating - m.KFactor(d.NObservations)*surprise)
	a.Rating = clampRating(a.Rating + m.KFactor(a.NObservations)*surprise)

	d.NObservations++
	a.NObservations++
	d.UpdatedAt = now
	a.UpdatedAt = now
	return nil
}

func clampRating(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
