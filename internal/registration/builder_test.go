package registration

import (
	"context"
	"reflect"
	"testing"
)

func buildWith(t *testing.T, params Params, nominal []Vec, est PairEstimator, progress ProgressFunc) (Assignment, BuildStats, *MatchCache) {
	t.Helper()
	cache := NewMatchCache(len(nominal), est)
	b := NewBuilder(params, NewProximityIndex(nominal, params.NomThresh), cache, progress, nil)
	assign, stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return assign, stats, cache
}

// gridTruth returns exact pair translations for tiles whose true origins are
// nominal*spacing.
func gridTruth(nominal []Vec, spacing float64, inliers int) PairEstimatorFunc {
	return func(src, dst int) Estimate {
		s, d := nominal[src], nominal[dst]
		return Estimate{
			Translation: Vec{X: (s.X - d.X) * spacing, Y: (s.Y - d.Y) * spacing},
			Inliers:     inliers,
		}
	}
}

func TestBuildGridSingleComponent(t *testing.T) {
	nominal := gridNominal(2, 2)
	assign, stats, cache := buildWith(t, DefaultParams(), nominal, gridTruth(nominal, 100, 60), nil)
	if want := (Assignment{0, 0, 0, 1}); !reflect.DeepEqual(assign, want) {
		t.Fatalf("expected %v, got %v", want, assign)
	}
	if stats.Seeds != 1 || stats.Attachments != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	global, err := Compose(assign, cache)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	for i, g := range global {
		want := Vec{X: nominal[i].X * 100, Y: nominal[i].Y * 100}
		if g != want {
			t.Fatalf("tile %d: expected %v, got %v", i, want, g)
		}
	}
}

func TestBuildAllWeakGivesSingletons(t *testing.T) {
	nominal := gridNominal(3, 2)
	assign, stats, _ := buildWith(t, DefaultParams(), nominal, gridTruth(nominal, 100, 5), nil)
	for i, r := range assign {
		if r != i {
			t.Fatalf("tile %d should be a root, got reference %d", i, r)
		}
	}
	if stats.Seeds != len(nominal) {
		t.Fatalf("expected %d seeds, got %d", len(nominal), stats.Seeds)
	}
	if comps := Partition(assign); len(comps) != len(nominal) {
		t.Fatalf("expected %d singleton components, got %d", len(nominal), len(comps))
	}
}

func TestBuildMinInliersIsStrict(t *testing.T) {
	nominal := []Vec{{X: 0}, {X: 1}}
	params := DefaultParams()
	assign, _, _ := buildWith(t, params, nominal, gridTruth(nominal, 1, params.MinInliers), nil)
	if assign[1] != 1 {
		t.Fatalf("exactly MinInliers must not attach, got %v", assign)
	}
	assign, _, _ = buildWith(t, params, nominal, gridTruth(nominal, 1, params.MinInliers+1), nil)
	if assign[1] != 0 {
		t.Fatalf("MinInliers+1 should attach, got %v", assign)
	}
}

func TestBuildEqualInliersPrefersLaterCandidate(t *testing.T) {
	// Tile 2 sees 0 then 1 by distance; both are matched with equal support.
	nominal := []Vec{{X: 0}, {X: 2}, {X: 0.9}}
	assign, _, _ := buildWith(t, DefaultParams(), nominal, gridTruth(nominal, 1, 20), nil)
	if want := (Assignment{0, 0, 1}); !reflect.DeepEqual(assign, want) {
		t.Fatalf("expected %v, got %v", want, assign)
	}
}

func TestBuildAutoAcceptStopsScan(t *testing.T) {
	nominal := []Vec{{X: 0}, {X: 2}, {X: 0.9}}
	est := newCountingEstimator(func(src, dst int) Estimate {
		if src == 2 && dst == 0 {
			return Estimate{Inliers: 55}
		}
		return Estimate{Inliers: 20}
	})
	assign, _, _ := buildWith(t, DefaultParams(), nominal, est, nil)
	if assign[2] != 0 {
		t.Fatalf("expected early accept of tile 0, got %v", assign)
	}
	if est.called(2, 1) != 0 {
		t.Fatal("scan continued past an auto-accepted neighbor")
	}

	params := DefaultParams()
	params.AutoAcceptFirst = false
	est = newCountingEstimator(est.fn)
	assign, _, _ = buildWith(t, params, nominal, est, nil)
	if assign[2] != 0 || est.called(2, 1) != 1 {
		t.Fatalf("exhaustive scan: assign %v, (2,1) calls %d", assign, est.called(2, 1))
	}
}

func TestBuildProgressMonotonic(t *testing.T) {
	nominal := gridNominal(3, 3)
	var events []Progress
	assign, _, _ := buildWith(t, DefaultParams(), nominal, PairEstimatorFunc(func(src, dst int) Estimate {
		// Only horizontal links are strong, so each row becomes its own component.
		if nominal[src].Y == nominal[dst].Y {
			return Estimate{Inliers: 30}
		}
		return Estimate{Inliers: 2}
	}), func(p Progress) { events = append(events, p) })

	if len(events) != len(nominal) {
		t.Fatalf("expected %d progress events, got %d", len(nominal), len(events))
	}
	for i, e := range events {
		if e.Matched != i+1 || e.Total != len(nominal) {
			t.Fatalf("event %d: %+v", i, e)
		}
	}
	if comps := Partition(assign); len(comps) != 3 {
		t.Fatalf("expected 3 row components, got %d", len(comps))
	}
}

func TestBuildReferencesOnlyMatchedTiles(t *testing.T) {
	nominal := gridNominal(4, 3)
	assign, _, _ := buildWith(t, DefaultParams(), nominal, gridTruth(nominal, 50, 25), nil)
	for s, r := range assign {
		if r == Unmatched {
			t.Fatalf("tile %d left unmatched", s)
		}
		if r != s && assign[r] == Unmatched {
			t.Fatalf("tile %d references unmatched tile %d", s, r)
		}
	}
	if comps := Partition(assign); len(comps) != 1 {
		t.Fatalf("expected one component, got %d", len(comps))
	}
}

func TestBuildCancelled(t *testing.T) {
	nominal := gridNominal(2, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBuilder(DefaultParams(), NewProximityIndex(nominal, 7), NewMatchCache(4, gridTruth(nominal, 1, 60)), nil, nil)
	if _, _, err := b.Build(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
