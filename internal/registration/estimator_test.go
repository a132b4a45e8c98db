package registration

import (
	"math/rand"
	"testing"

	"automontage/internal/features"
)

func syntheticCorrespondences(inliers, outliers int, shift Vec) (src, dst []features.Point) {
	for i := 0; i < inliers; i++ {
		p := features.Point{X: float64(i*7 % 97), Y: float64(i*13 % 89)}
		src = append(src, p)
		dst = append(dst, features.Point{X: p.X + shift.X, Y: p.Y + shift.Y})
	}
	for i := 0; i < outliers; i++ {
		p := features.Point{X: float64(i), Y: float64(2 * i)}
		src = append(src, p)
		dst = append(dst, features.Point{X: p.X + 100 + 20*float64(i), Y: p.Y - 200 - 15*float64(i)})
	}
	return src, dst
}

func TestEstimateTranslationRecoversShift(t *testing.T) {
	shift := Vec{X: 12.5, Y: -3.25}
	src, dst := syntheticCorrespondences(40, 30, shift)
	est := EstimateTranslation(src, dst, 1000, 10.0, rand.New(rand.NewSource(7)))
	if est.Translation != shift {
		t.Fatalf("expected translation %v, got %v", shift, est.Translation)
	}
	if est.Inliers != 40 {
		t.Fatalf("expected 40 inliers, got %d", est.Inliers)
	}
}

func TestEstimateTranslationIterationCap(t *testing.T) {
	// With a single hypothesis the estimate is whatever row was drawn, but the
	// inlier count must be consistent with that row.
	shift := Vec{X: 3, Y: 4}
	src, dst := syntheticCorrespondences(20, 5, shift)
	est := EstimateTranslation(src, dst, 1, 10.0, rand.New(rand.NewSource(1)))
	switch {
	case est.Translation == shift && est.Inliers != 20:
		t.Fatalf("inlier hypothesis should score 20, got %d", est.Inliers)
	case est.Translation != shift && est.Inliers != 1:
		t.Fatalf("outlier hypothesis should score 1, got %d", est.Inliers)
	}
}

func TestEstimateTranslationEmpty(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	if est := EstimateTranslation(nil, nil, 1000, 10.0, rng); est != (Estimate{}) {
		t.Fatalf("expected zero estimate, got %+v", est)
	}
	src := []features.Point{{X: 1}}
	if est := EstimateTranslation(src, nil, 1000, 10.0, rng); est != (Estimate{}) {
		t.Fatalf("expected zero estimate for mismatched input, got %+v", est)
	}
}

func TestEstimateTranslationDeterministic(t *testing.T) {
	src, dst := syntheticCorrespondences(15, 15, Vec{X: -8, Y: 2})
	a := EstimateTranslation(src, dst, 1000, 10.0, rand.New(rand.NewSource(pairSeed(3, 1, 2))))
	b := EstimateTranslation(src, dst, 1000, 10.0, rand.New(rand.NewSource(pairSeed(3, 1, 2))))
	if a != b {
		t.Fatalf("same seed produced %+v and %+v", a, b)
	}
}

func TestPairSeedDistinguishesDirection(t *testing.T) {
	if pairSeed(1, 2, 3) == pairSeed(1, 3, 2) {
		t.Fatal("expected ordered pairs to get distinct seeds")
	}
	if pairSeed(1, 2, 3) != pairSeed(1, 2, 3) {
		t.Fatal("expected stable seed")
	}
}

func TestEstimateTranslationRandomOutliers(t *testing.T) {
	shift := Vec{X: 12, Y: -3}
	for seed := int64(0); seed < 50; seed++ {
		rng := rand.New(rand.NewSource(seed))
		var src, dst []features.Point
		for i := 0; i < 55; i++ {
			p := features.Point{X: float64(rng.Intn(500)), Y: float64(rng.Intn(500))}
			src = append(src, p)
			dst = append(dst, features.Point{X: p.X + shift.X, Y: p.Y + shift.Y})
		}
		for i := 0; i < 45; i++ {
			p := features.Point{X: float64(rng.Intn(500)), Y: float64(rng.Intn(500))}
			q := features.Point{X: float64(rng.Intn(500)), Y: float64(rng.Intn(500))}
			// Outliers whose displacement lands near the true shift would be inliers.
			d := Vec{X: q.X - p.X, Y: q.Y - p.Y}
			if d.Dist2(shift) < 100 {
				i--
				continue
			}
			src = append(src, p)
			dst = append(dst, q)
		}
		rng.Shuffle(len(src), func(i, j int) {
			src[i], src[j] = src[j], src[i]
			dst[i], dst[j] = dst[j], dst[i]
		})

		est := EstimateTranslation(src, dst, 1000, 10.0, rand.New(rand.NewSource(seed+100)))
		if est.Translation != shift {
			t.Fatalf("seed %d: expected translation %v, got %v", seed, shift, est.Translation)
		}
		if est.Inliers != 55 {
			t.Fatalf("seed %d: expected 55 inliers, got %d", seed, est.Inliers)
		}
	}
}
