package registration

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"automontage/internal/features"
)

// Estimate is a translation hypothesis and the correspondences supporting it.
// Translation maps source tile coordinates into destination coordinates:
// dst ≈ src + Translation.
type Estimate struct {
	Translation Vec `json:"translation"`
	Inliers     int `json:"inliers"`
}

// EstimateTranslation runs translation-only RANSAC. Each hypothesis is the
// displacement of one sampled correspondence; min(iterations, n) rows are
// drawn without replacement from rng. A correspondence is an inlier when its
// squared residual is below threshold. Ties go to the earliest hypothesis.
// An empty or mismatched input yields the zero Estimate.
func EstimateTranslation(src, dst []features.Point, iterations int, threshold float64, rng *rand.Rand) Estimate {
	n := len(src)
	if n == 0 || len(dst) != n || iterations < 1 {
		return Estimate{}
	}

	dx := make([]float64, n)
	dy := make([]float64, n)
	for i := range src {
		dx[i] = dst[i].X - src[i].X
		dy[i] = dst[i].Y - src[i].Y
	}

	rows := rng.Perm(n)[:min(iterations, n)]

	rx := make([]float64, n)
	ry := make([]float64, n)
	bestRow, bestCount := -1, -1
	for _, r := range rows {
		tx, ty := dx[r], dy[r]
		copy(rx, dx)
		copy(ry, dy)
		floats.AddConst(-tx, rx)
		floats.AddConst(-ty, ry)
		floats.Mul(rx, rx)
		floats.Mul(ry, ry)
		floats.Add(rx, ry)

		count := 0
		for _, e := range rx {
			if e < threshold {
				count++
			}
		}
		if count > bestCount {
			bestRow, bestCount = r, count
		}
	}

	return Estimate{
		Translation: Vec{X: dx[bestRow], Y: dy[bestRow]},
		Inliers:     bestCount,
	}
}

// pairSeed derives a deterministic per-pair seed so estimates do not depend
// on the order pairs are evaluated in.
func pairSeed(seed int64, src, dst int) int64 {
	z := uint64(seed) ^ uint64(src)*0x9e3779b97f4a7c15 ^ uint64(dst)*0xc2b2ae3d27d4eb4f
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	return int64(z)
}
