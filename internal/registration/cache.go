package registration

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"automontage/internal/features"
)

// PairEstimator computes the translation for one ordered tile pair.
// Implementations must be safe for concurrent use.
type PairEstimator interface {
	EstimatePair(src, dst int) Estimate
}

// PairEstimatorFunc adapts a function to PairEstimator.
type PairEstimatorFunc func(src, dst int) Estimate

func (f PairEstimatorFunc) EstimatePair(src, dst int) Estimate { return f(src, dst) }

// tileEstimator pools ratio-test matches over every channel and runs
// RANSAC on the pooled correspondences.
type tileEstimator struct {
	tiles  []Tile
	params Params
}

func (e *tileEstimator) EstimatePair(src, dst int) Estimate {
	var pool features.Pool
	for _, ch := range Channels() {
		pool.Add(e.tiles[src].Features[ch], e.tiles[dst].Features[ch], e.params.RatioTest)
	}
	rng := rand.New(rand.NewSource(pairSeed(e.params.Seed, src, dst)))
	return EstimateTranslation(pool.Src, pool.Dst, e.params.RansacIterations, e.params.RansacThreshold, rng)
}

// PairMatch is one cached ordered-pair estimate.
type PairMatch struct {
	Src int `json:"src"`
	Dst int `json:"dst"`
	Estimate
}

type cacheCell struct {
	once sync.Once
	done atomic.Bool
	est  Estimate
}

// MatchCache memoizes pair estimates in a dense n×n table. Each ordered
// pair is computed at most once even under concurrent callers.
type MatchCache struct {
	n         int
	cells     []cacheCell
	estimator PairEstimator
	computed  atomic.Int64
}

// NewMatchCache returns an empty cache over n tiles.
func NewMatchCache(n int, est PairEstimator) *MatchCache {
	return &MatchCache{n: n, cells: make([]cacheCell, n*n), estimator: est}
}

// GetOrCompute returns the estimate for (src, dst), computing it on first use.
func (c *MatchCache) GetOrCompute(src, dst int) Estimate {
	cell := &c.cells[src*c.n+dst]
	cell.once.Do(func() {
		cell.est = c.estimator.EstimatePair(src, dst)
		cell.done.Store(true)
		c.computed.Add(1)
	})
	return cell.est
}

// Lookup returns a previously computed estimate without computing.
func (c *MatchCache) Lookup(src, dst int) (Estimate, bool) {
	cell := &c.cells[src*c.n+dst]
	if !cell.done.Load() {
		return Estimate{}, false
	}
	return cell.est, true
}

// Computed reports how many pairs have been estimated.
func (c *MatchCache) Computed() int { return int(c.computed.Load()) }

// Entries lists every computed pair in row-major order.
func (c *MatchCache) Entries() []PairMatch {
	var out []PairMatch
	for i := range c.cells {
		if !c.cells[i].done.Load() {
			continue
		}
		out = append(out, PairMatch{Src: i / c.n, Dst: i % c.n, Estimate: c.cells[i].est})
	}
	return out
}

// Prefetch fills the cache for every candidate pair of idx using up to
// workers goroutines. Results are identical to lazy computation.
func (c *MatchCache) Prefetch(ctx context.Context, idx ProximityIndex, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
schedule:
	for s, row := range idx {
		for _, d := range row {
			if gctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				c.GetOrCompute(s, d)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
