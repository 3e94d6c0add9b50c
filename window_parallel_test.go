package wflow

import (
	"context"
	"sync"
	"testing"
)

// Test_ParallelWindows_Ownership_Partition checks NewParallelWindows'
// ownership split directly: each window id must be owned by exactly one of
// the P replicas, and asking Add on the wrong replica for a given key never
// double-fires the same window.
func Test_ParallelWindows_Ownership_Partition(t *testing.T) {
	const parallelism = 4
	pw := NewParallelWindows[string, int, int](windowCB, 10, 10, 0, sumAggregator(), parallelism)

	for id := uint64(0); id < 40; id++ {
		owned := 0
		for r := 0; r < parallelism; r++ {
			if pw.replicas[r].owned(id) {
				owned++
			}
		}
		if owned != 1 {
			t.Fatalf("window %d owned by %d replicas, want 1", id, owned)
		}
	}

	var fired []WindowResult[string, int]
	for r := 0; r < parallelism; r++ {
		for i := 1; i <= 10; i++ {
			fired = append(fired, pw.Add(r, "k", uint64(i-1), 1)...)
		}
	}

	// Only the replica owning window 0 should have fired it.
	if len(fired) != 1 {
		t.Fatalf("len(fired) = %d, want 1 (only the owning replica fires)", len(fired))
	}
	if fired[0].Aggregate != 10 {
		t.Fatalf("aggregate = %d, want 10", fired[0].Aggregate)
	}
}

// Test_ChainWindowed_Parallel exercises Parallel_Windows wired end to end
// through ChainWindowed (graph.go:422): a ParallelWindows' Replicas() feed a
// parallelism-2 windowed stage, fed by Broadcast per spec §4.5. All 400
// tuples share one window key, so CB windows of 50 fire deterministically
// (on the winLen-th arrival, independent of watermark progress) split
// across the two ownership-partitioned replicas — every fired window's
// aggregate must add up to the full input sum with nothing double-counted
// or dropped.
func Test_ChainWindowed_Parallel(t *testing.T) {
	const n = 400
	const parallelism = 2
	const winLen, slideLen = 50, 50

	g := NewGraph("parallel_windowed")
	src := AddSource(g, "src", intSource(n), defaultOption[int]())

	pw := NewParallelWindows[int, int, int](windowCB, winLen, slideLen, 0, sumAggregator(), parallelism)

	// validate() requires a KeyBy whenever Parallelism > 1 and a window
	// kind is set; ChainWindowed's own Broadcast path (graph.go:433-456)
	// ignores it for routing — ownership is decided by ParallelWindows,
	// not by this KeyBy — so any non-nil extractor satisfies validation.
	opt := defaultOption[int]().WithParallelism(parallelism).WithCBWindows(winLen, slideLen).
		WithKeyBy(func(v int) any { return 0 })

	windowed := ChainWindowed[int, int, int](src, "windowed", KindAggregator,
		pw.Replicas(),
		func(v int) int { return 0 }, // single key: every replica's CB count advances together
		nil,
		opt,
	)

	var mu sync.Mutex
	var total int
	var fireCount int
	ChainSink(windowed, "sink", func(r WindowResult[int, int]) error {
		mu.Lock()
		total += r.Aggregate
		fireCount++
		mu.Unlock()
		return nil
	}, defaultOption[WindowResult[int, int]]().WithParallelism(1))

	g.Run(context.Background())

	if want := n * (n - 1) / 2; total != want {
		t.Fatalf("total = %d, want %d", total, want)
	}
	if want := n / winLen; fireCount != want {
		t.Fatalf("fireCount = %d, want %d", fireCount, want)
	}
}
