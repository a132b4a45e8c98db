package registration

import (
	"math"

	"automontage/internal/features"
)

// Params tune the registration engine.
type Params struct {
	// NomThresh bounds the squared nominal distance between candidate neighbors.
	NomThresh float64
	// MinInliers is the strict lower bound an attachment must exceed.
	MinInliers int
	// AutoAccept ends a neighbor scan early once reached, when AutoAcceptFirst is set.
	AutoAccept      int
	AutoAcceptFirst bool

	RansacIterations int
	RansacThreshold  float64
	RatioTest        float64

	// Seed drives every per-pair hypothesis shuffle.
	Seed int64
}

// DefaultParams returns the stock engine parameters.
func DefaultParams() Params {
	return Params{
		NomThresh:        7.0,
		MinInliers:       10,
		AutoAccept:       50,
		AutoAcceptFirst:  true,
		RansacIterations: 1000,
		RansacThreshold:  10.0,
		RatioTest:        features.DefaultRatio,
		Seed:             1,
	}
}

// Validate rejects parameter sets the engine cannot run with.
func (p Params) Validate() error {
	switch {
	case !(p.NomThresh > 0) || math.IsInf(p.NomThresh, 1):
		return configError("nominal threshold must be positive and finite, got %v", p.NomThresh)
	case p.MinInliers < 0:
		return configError("minimum inliers must be non-negative, got %d", p.MinInliers)
	case p.AutoAcceptFirst && p.AutoAccept <= p.MinInliers:
		return configError("auto-accept count %d must exceed minimum inliers %d", p.AutoAccept, p.MinInliers)
	case p.RansacIterations < 1:
		return configError("ransac iterations must be at least 1, got %d", p.RansacIterations)
	case !(p.RansacThreshold > 0) || math.IsInf(p.RansacThreshold, 1):
		return configError("ransac threshold must be positive and finite, got %v", p.RansacThreshold)
	case !(p.RatioTest > 0 && p.RatioTest <= 1):
		return configError("ratio test must be in (0, 1], got %v", p.RatioTest)
	}
	return nil
}
