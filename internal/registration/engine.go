package registration

import (
	"context"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Options configure one Register call.
type Options struct {
	Params Params
	Logger *slog.Logger
	// Progress receives matched-tile counts while the forest grows.
	Progress ProgressFunc
	// PrefetchWorkers > 0 fills the match cache for all candidate pairs in
	// parallel before building.
	PrefetchWorkers int
	// Estimator overrides feature-based pair estimation.
	Estimator PairEstimator
}

// Result is the registration graph for one tile set.
type Result struct {
	Assignment Assignment  `json:"assignment"`
	Components []Component `json:"components"`
	// Global holds each tile's offset in its component root's frame.
	Global   []Vec         `json:"global"`
	Stats    BuildStats    `json:"stats"`
	Matches  []PairMatch   `json:"-"`
	Duration time.Duration `json:"duration"`
}

// ComponentOf returns the component containing tile i.
func (r *Result) ComponentOf(i int) *Component {
	for c := range r.Components {
		for _, m := range r.Components[c].Members {
			if m == i {
				return &r.Components[c]
			}
		}
	}
	return nil
}

// Register runs the full engine over tiles: proximity index, match cache,
// greedy build, partition and composition.
func Register(ctx context.Context, tiles []Tile, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if err := validateTiles(tiles); err != nil {
		return nil, err
	}
	start := time.Now()

	nominal := make([]Vec, len(tiles))
	for i := range tiles {
		nominal[i] = tiles[i].Nominal
	}
	idx := NewProximityIndex(nominal, opts.Params.NomThresh)
	logger.Debug("proximity index built", "tiles", len(tiles), "pairs", idx.Pairs())

	est := opts.Estimator
	if est == nil {
		est = &tileEstimator{tiles: tiles, params: opts.Params}
	}
	cache := NewMatchCache(len(tiles), est)
	if opts.PrefetchWorkers > 0 {
		if err := cache.Prefetch(ctx, idx, opts.PrefetchWorkers); err != nil {
			return nil, err
		}
		logger.Debug("match cache prefetched", "pairs", cache.Computed(), "workers", opts.PrefetchWorkers)
	}

	assign, stats, err := NewBuilder(opts.Params, idx, cache, opts.Progress, logger).Build(ctx)
	if err != nil {
		return nil, err
	}
	comps := Partition(assign)
	global, err := Compose(assign, cache)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Assignment: assign,
		Components: comps,
		Global:     global,
		Stats:      stats,
		Matches:    cache.Entries(),
		Duration:   time.Since(start),
	}
	attrs := []any{
		"tiles", len(tiles),
		"components", len(comps),
		"seeds", stats.Seeds,
		"attachments", stats.Attachments,
		"pairs_evaluated", stats.PairsEvaluated,
		"duration", res.Duration,
	}
	if len(stats.AttachInliers) > 0 {
		w := make([]float64, len(stats.AttachInliers))
		for i, v := range stats.AttachInliers {
			w[i] = float64(v)
		}
		attrs = append(attrs, "inliers_mean", stat.Mean(w, nil))
		if len(w) > 1 {
			attrs = append(attrs, "inliers_std", stat.StdDev(w, nil))
		}
	}
	logger.Info("registration complete", attrs...)
	return res, nil
}
