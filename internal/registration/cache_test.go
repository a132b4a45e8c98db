package registration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

type countingEstimator struct {
	calls atomic.Int64
	mu    sync.Mutex
	pairs map[[2]int]int
	fn    func(src, dst int) Estimate
}

func newCountingEstimator(fn func(src, dst int) Estimate) *countingEstimator {
	return &countingEstimator{pairs: make(map[[2]int]int), fn: fn}
}

func (c *countingEstimator) EstimatePair(src, dst int) Estimate {
	c.calls.Add(1)
	c.mu.Lock()
	c.pairs[[2]int{src, dst}]++
	c.mu.Unlock()
	return c.fn(src, dst)
}

func (c *countingEstimator) called(src, dst int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairs[[2]int{src, dst}]
}

func TestMatchCacheComputesOnce(t *testing.T) {
	est := newCountingEstimator(func(src, dst int) Estimate {
		return Estimate{Translation: Vec{X: float64(src), Y: float64(dst)}, Inliers: src + dst}
	})
	cache := NewMatchCache(3, est)
	if _, ok := cache.Lookup(1, 2); ok {
		t.Fatal("expected miss before compute")
	}
	first := cache.GetOrCompute(1, 2)
	second := cache.GetOrCompute(1, 2)
	if first != second {
		t.Fatalf("expected identical results, got %+v and %+v", first, second)
	}
	if est.calls.Load() != 1 {
		t.Fatalf("expected 1 estimator call, got %d", est.calls.Load())
	}
	if got, ok := cache.Lookup(1, 2); !ok || got != first {
		t.Fatalf("lookup mismatch: %+v %v", got, ok)
	}
	if _, ok := cache.Lookup(2, 1); ok {
		t.Fatal("reverse pair must be cached independently")
	}
}

func TestMatchCacheConcurrentCallers(t *testing.T) {
	est := newCountingEstimator(func(src, dst int) Estimate { return Estimate{Inliers: 42} })
	cache := NewMatchCache(2, est)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := cache.GetOrCompute(0, 1); got.Inliers != 42 {
				t.Errorf("unexpected estimate %+v", got)
			}
		}()
	}
	wg.Wait()
	if est.calls.Load() != 1 {
		t.Fatalf("expected 1 estimator call, got %d", est.calls.Load())
	}
}

func TestMatchCachePrefetch(t *testing.T) {
	est := newCountingEstimator(func(src, dst int) Estimate { return Estimate{Inliers: 10*src + dst} })
	idx := NewProximityIndex(gridNominal(2, 2), 7.0)
	cache := NewMatchCache(4, est)
	if err := cache.Prefetch(context.Background(), idx, 3); err != nil {
		t.Fatalf("prefetch: %v", err)
	}
	if cache.Computed() != idx.Pairs() {
		t.Fatalf("expected %d pairs, got %d", idx.Pairs(), cache.Computed())
	}
	entries := cache.Entries()
	if len(entries) != idx.Pairs() {
		t.Fatalf("expected %d entries, got %d", idx.Pairs(), len(entries))
	}
	for _, e := range entries {
		if e.Inliers != 10*e.Src+e.Dst {
			t.Fatalf("entry %+v has wrong estimate", e)
		}
	}
	cache.GetOrCompute(0, 1)
	if est.calls.Load() != int64(idx.Pairs()) {
		t.Fatalf("prefetched pair was recomputed")
	}
}

func TestMatchCachePrefetchCancelled(t *testing.T) {
	est := newCountingEstimator(func(src, dst int) Estimate { return Estimate{} })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cache := NewMatchCache(4, est)
	if err := cache.Prefetch(ctx, NewProximityIndex(gridNominal(2, 2), 7.0), 2); err == nil {
		t.Fatal("expected cancellation error")
	}
}
