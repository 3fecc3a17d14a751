package scoring

import (
	"errors"
	"math"
	"sync"
	"testing"

	"VeriStake/internal/events"
	"VeriStake/internal/gov"
	"VeriStake/internal/storage"
	"VeriStake/internal/types"
)

func testPrincipal(b byte) types.Principal {
	var p types.Principal
	p[0] = b
	return p
}

var governor = testPrincipal(0xA0)

func newTestEngine(t *testing.T) (*Engine, *events.Journal) {
	t.Helper()

	store, err := storage.Open(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	now := func() uint64 { return 1_700_000_000 }

	authority, err := gov.OpenAuthority(store, journal, now, governor)
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	var writeMu sync.Mutex

	return NewEngine(store, journal, authority, now, &writeMu), journal
}

func TestWeightedScore(t *testing.T) {
	cases := []struct {
		name     string
		weights  []uint64
		features []uint64
		want     uint64
	}{
		{"identity", []uint64{Scale}, []uint64{7500}, 7500},
		{"uniform", []uint64{1, 1, 1}, []uint64{100, 200, 300}, 200},
		{"truncates", []uint64{1, 1}, []uint64{3, 4}, 3},
		{"skewed", []uint64{7500, 2500}, []uint64{Scale, 0}, 7500},
		{"zero features", []uint64{5, 5}, []uint64{0, 0}, 0},
		{"above nominal band", []uint64{1}, []uint64{3 * Scale}, 3 * Scale},
		{"wide products", []uint64{math.MaxUint64}, []uint64{12345}, 12345},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := WeightedScore(tc.weights, tc.features)
			if err != nil {
				t.Fatalf("WeightedScore: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWeightedScoreRejections(t *testing.T) {
	cases := []struct {
		name     string
		weights  []uint64
		features []uint64
	}{
		{"no weights", nil, []uint64{1}},
		{"length mismatch", []uint64{1, 2}, []uint64{1}},
		{"zero weight sum", []uint64{0, 0}, []uint64{1, 2}},
		{"sum overflow", []uint64{math.MaxUint64, 1}, []uint64{1, 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := WeightedScore(tc.weights, tc.features)
			if !errors.Is(err, types.ErrValidation) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestSetWeightsIsPrivileged(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.SetWeights(testPrincipal(7), []uint64{1, 2, 3})
	if !errors.Is(err, types.ErrAuthorization) {
		t.Fatalf("got %v, want authorization error", err)
	}

	weights, err := engine.Weights()
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if weights != nil {
		t.Errorf("weights after refused set: got %v, want nil", weights)
	}
}

func TestSetWeightsReplacesWholesale(t *testing.T) {
	engine, journal := newTestEngine(t)

	if err := engine.SetWeights(governor, []uint64{1000, 2000, 3000}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	if err := engine.SetWeights(governor, []uint64{5000}); err != nil {
		t.Fatalf("SetWeights replace: %v", err)
	}

	weights, err := engine.Weights()
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if len(weights) != 1 || weights[0] != 5000 {
		t.Errorf("got %v, want [5000]", weights)
	}

	evs, err := journal.ReadSince(1, 0)
	if err != nil {
		t.Fatalf("ReadSince: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	last := evs[1]
	if last.Kind != events.KindWeightsSet || last.Amount != 1 || last.Aux != 5000 {
		t.Errorf("event: kind=%s amount=%d aux=%d", last.Kind, last.Amount, last.Aux)
	}
	if last.Actor != governor {
		t.Errorf("event actor: got %s, want governor", last.Actor)
	}
}

func TestSetWeightsRejectsOverflowingSum(t *testing.T) {
	engine, _ := newTestEngine(t)

	err := engine.SetWeights(governor, []uint64{math.MaxUint64, 1})
	if !errors.Is(err, types.ErrValidation) {
		t.Errorf("got %v, want validation error", err)
	}
}

func TestComputeUsesStoredWeights(t *testing.T) {
	engine, _ := newTestEngine(t)

	if _, err := engine.Compute([]uint64{7500}); !errors.Is(err, types.ErrValidation) {
		t.Errorf("compute before set: got %v, want validation error", err)
	}

	if err := engine.SetWeights(governor, []uint64{Scale}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}

	score, err := engine.Compute([]uint64{7500})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if score != 7500 {
		t.Errorf("got %d, want 7500", score)
	}
}

func TestWeightsSurviveReopen(t *testing.T) {
	dir := t.TempDir() + "/db"

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	journal, err := events.OpenJournal(store)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}

	now := func() uint64 { return 1_700_000_000 }

	authority, err := gov.OpenAuthority(store, journal, now, governor)
	if err != nil {
		t.Fatalf("open authority: %v", err)
	}

	var writeMu sync.Mutex
	engine := NewEngine(store, journal, authority, now, &writeMu)

	if err := engine.SetWeights(governor, []uint64{100, 200}); err != nil {
		t.Fatalf("SetWeights: %v", err)
	}
	store.Close()

	store, err = storage.Open(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	journal, err = events.OpenJournal(store)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	authority, err = gov.OpenAuthority(store, journal, now, governor)
	if err != nil {
		t.Fatalf("reopen authority: %v", err)
	}

	engine = NewEngine(store, journal, authority, now, &writeMu)

	weights, err := engine.Weights()
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if len(weights) != 2 || weights[0] != 100 || weights[1] != 200 {
		t.Errorf("got %v, want [100 200]", weights)
	}
}
