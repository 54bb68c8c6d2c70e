package elo

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/recallengine/pkg/models"
)

func newStates(m *Model) (*models.ConceptDifficulty, *models.UserAbility) {
	d := m.SeedDifficulty(uuid.New())
	a := m.SeedAbility(uuid.New())
	return &d, &a
}

func TestExpectedScore(t *testing.T) {
	m := New(DefaultConfig())

	if got := m.ExpectedScore(50, 50); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("equal ratings should give expected score 0.5, got %v", got)
	}
	if easy, hard := m.ExpectedScore(70, 50), m.ExpectedScore(30, 50); easy <= hard {
		t.Fatalf("stronger learner should have higher expected score: %v vs %v", easy, hard)
	}
	if e := m.ExpectedScore(90, 10); e <= 0.9 {
		t.Fatalf("large ability gap should give near-certain success, got %v", e)
	}
}

func TestKFactorDecays(t *testing.T) {
	m := New(DefaultConfig())

	prev := m.KFactor(0)
	if prev != DefaultConfig().K0 {
		t.Fatalf("fresh concept should get K0, got %v", prev)
	}
	for n := 1; n <= 200; n++ {
		k := m.KFactor(n)
		if k > prev {
			t.Fatalf("K must not grow with observations: K(%d)=%v > K(%d)=%v", n, k, n-1, prev)
		}
		if k < DefaultConfig().KMin {
			t.Fatalf("K fell below the floor at n=%d: %v", n, k)
		}
		prev = k
	}
}

func TestAdjustedExpectationGuessFloor(t *testing.T) {
	m := New(DefaultConfig())

	e := 0.3
	adj := m.AdjustedExpectation(e, true, 4)
	want := e + (1-e)*0.25
	if math.Abs(adj-want) > 1e-12 {
		t.Fatalf("guess floor blend: got %v want %v", adj, want)
	}
	if got := m.AdjustedExpectation(e, false, 4); got != e {
		t.Fatalf("free recall must not be adjusted, got %v", got)
	}
	if got := m.AdjustedExpectation(e, true, 0); got != e {
		t.Fatalf("degenerate choice count must not be adjusted, got %v", got)
	}
}

func TestUpdateMovesRatings(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now().UTC()

	d, a := newStates(m)
	before := d.Rating
	if err := m.Update(d, a, false, false, 0, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if d.Rating <= before {
		t.Fatalf("incorrect answer should raise difficulty: %v -> %v", before, d.Rating)
	}
	if a.Rating >= 50 {
		t.Fatalf("incorrect answer should lower ability, got %v", a.Rating)
	}
	if d.NObservations != 1 || a.NObservations != 1 {
		t.Fatalf("observation counters not incremented: %d, %d", d.NObservations, a.NObservations)
	}
	if !d.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at not stamped")
	}

	d2, a2 := newStates(m)
	if err := m.Update(d2, a2, true, false, 0, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if d2.Rating >= 50 {
		t.Fatalf("correct answer should lower difficulty, got %v", d2.Rating)
	}
}

func TestUpdateGuessReducesMovement(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now().UTC()

	free, freeAbility := newStates(m)
	if err := m.Update(free, freeAbility, true, false, 0, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	mcq, mcqAbility := newStates(m)
	if err := m.Update(mcq, mcqAbility, true, true, 4, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	freeDelta := math.Abs(free.Rating - 50)
	mcqDelta := math.Abs(mcq.Rating - 50)
	if mcqDelta >= freeDelta {
		t.Fatalf("a correct multiple-choice answer must move the rating less than free recall: %v vs %v", mcqDelta, freeDelta)
	}
}

// A fully expected outcome carries no surprise: when the expected score is
// effectively 1 and the answer is correct, the rating must not move beyond
// floating tolerance.
func TestUpdateNoOpWhenOutcomeMatchesExpectation(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now().UTC()

	d := models.ConceptDifficulty{ConceptID: uuid.New(), Rating: 10}
	a := models.UserAbility{UserID: uuid.New(), Rating: 100}
	before := d.Rating
	if err := m.Update(&d, &a, true, false, 0, now); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if math.Abs(d.Rating-before) > 1e-3 {
		t.Fatalf("no-surprise update moved the rating by %v", math.Abs(d.Rating-before))
	}
}

func TestUpdateNilDifficulty(t *testing.T) {
	m := New(DefaultConfig())
	a := m.SeedAbility(uuid.New())
	if err := m.Update(nil, &a, true, false, 0, time.Now()); err != ErrUnknownConcept {
		t.Fatalf("expected ErrUnknownConcept, got %v", err)
	}
}

func TestRatingsStayClamped(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now().UTC()

	d, a := newStates(m)
	for i := 0; i < 500; i++ {
		if err := m.Update(d, a, false, false, 0, now); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}
	if d.Rating < 0 || d.Rating > 100 {
		t.Fatalf("difficulty escaped the 0-100 scale: %v", d.Rating)
	}
	if a.Rating < 0 || a.Rating > 100 {
		t.Fatalf("ability escaped the 0-100 scale: %v", a.Rating)
	}
}
