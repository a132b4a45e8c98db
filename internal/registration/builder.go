package registration

import (
	"context"
	"log/slog"
)

// Unmatched marks a tile that has not joined any component yet.
const Unmatched = -1

// Assignment maps each tile to its reference tile. A root references itself.
type Assignment []int

// IsRoot reports whether tile i anchors its component.
func (a Assignment) IsRoot(i int) bool { return a[i] == i }

// Matched counts tiles that are roots or attached.
func (a Assignment) Matched() int {
	n := 0
	for _, r := range a {
		if r != Unmatched {
			n++
		}
	}
	return n
}

func (a Assignment) firstUnmatched() int {
	for i, r := range a {
		if r == Unmatched {
			return i
		}
	}
	return -1
}

// Progress reports how many tiles have been placed so far.
type Progress struct {
	Matched int `json:"matched"`
	Total   int `json:"total"`
}

// ProgressFunc receives progress updates. It is called synchronously from
// the builder goroutine and should not block.
type ProgressFunc func(Progress)

// BuildStats summarises one build.
type BuildStats struct {
	Seeds          int   `json:"seeds"`
	Sweeps         int   `json:"sweeps"`
	Attachments    int   `json:"attachments"`
	AttachInliers  []int `json:"-"`
	PairsEvaluated int   `json:"pairs_evaluated"`
}

// Builder grows a spanning forest over tiles by greedy best-neighbor attachment.
type Builder struct {
	params    Params
	neighbors ProximityIndex
	cache     *MatchCache
	progress  ProgressFunc
	log       *slog.Logger
}

// NewBuilder wires a builder; progress and logger may be nil.
func NewBuilder(params Params, neighbors ProximityIndex, cache *MatchCache, progress ProgressFunc, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{params: params, neighbors: neighbors, cache: cache, progress: progress, log: logger}
}

// Build seeds the lowest-index unmatched tile as a root and sweeps all
// unmatched tiles, attaching each to its best matched neighbor, until a
// sweep attaches nothing. It repeats until every tile is matched.
func (b *Builder) Build(ctx context.Context) (Assignment, BuildStats, error) {
	n := len(b.neighbors)
	assign := make(Assignment, n)
	for i := range assign {
		assign[i] = Unmatched
	}
	var stats BuildStats
	matched := 0

	for {
		seed := assign.firstUnmatched()
		if seed < 0 {
			break
		}
		assign[seed] = seed
		stats.Seeds++
		matched++
		b.report(matched, n)
		b.log.Debug("seeded component", "tile", seed, "matched", matched, "total", n)

		for attached := true; attached; {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
			attached = false
			stats.Sweeps++
			for s := 0; s < n; s++ {
				if assign[s] != Unmatched {
					continue
				}
				ref, inliers := b.bestNeighbor(assign, s)
				if inliers > b.params.MinInliers {
					assign[s] = ref
					attached = true
					matched++
					stats.Attachments++
					stats.AttachInliers = append(stats.AttachInliers, inliers)
					b.report(matched, n)
				}
			}
		}
	}
	stats.PairsEvaluated = b.cache.Computed()
	return assign, stats, nil
}

// bestNeighbor scans matched candidates of s in proximity order. A later
// candidate with an equal inlier count replaces the current best.
func (b *Builder) bestNeighbor(assign Assignment, s int) (int, int) {
	best, ref := 0, Unmatched
	for _, d := range b.neighbors[s] {
		if d == s || assign[d] == Unmatched {
			continue
		}
		est := b.cache.GetOrCompute(s, d)
		if est.Inliers >= best {
			best, ref = est.Inliers, d
			if b.params.AutoAcceptFirst && best >= b.params.AutoAccept {
				break
			}
		}
	}
	return ref, best
}

func (b *Builder) report(matched, total int) {
	if b.progress != nil {
		b.progress(Progress{Matched: matched, Total: total})
	}
}
