package wflow

import (
	"context"
	"sync"
	"testing"
)

// intSource returns a Puller that yields 0, 1, ..., n-1 with timestamp
// equal to the value, then reports exhausted.
func intSource(n int) Puller[int] {
	next := 0
	return func(ctx context.Context) (int, uint64, bool, error) {
		if next >= n {
			return 0, 0, false, nil
		}
		v := next
		next++
		return v, uint64(v), true, nil
	}
}

// Test_Forward_Chain_Sum exercises the plain Forward routing path (spec
// §4.5: equal parallelism with no KeyBy pairs 1:1): a Source feeding a
// Map feeding a Sink, all at parallelism 1, must deliver every tuple
// exactly once and preserve the sum.
func Test_Forward_Chain_Sum(t *testing.T) {
	const n = 1000

	g := NewGraph("forward_chain")

	src := AddSource(g, "src", intSource(n), defaultOption[int]())

	mapped := Chain(src, "identity", func(v int) (int, error) {
		return v, nil
	}, defaultOption[int]())

	var mu sync.Mutex
	var sum, count int
	ChainSink(mapped, "sink", func(v int) error {
		mu.Lock()
		sum += v
		count++
		mu.Unlock()
		return nil
	}, defaultOption[int]())

	g.Run(context.Background())

	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
	if want := n * (n - 1) / 2; sum != want {
		t.Fatalf("sum = %d, want %d", sum, want)
	}
}

// Test_KeyBy_Determinism checks that fanning a single source out over a
// KeyBy edge to 4 keyed replicas never drops or duplicates a tuple (count
// and sum are preserved). That equal keys always reach the same replica is
// checked by Test_KeyBy_Routing_Stable.
func Test_KeyBy_Determinism(t *testing.T) {
	const n = 10000
	const parallelism = 4

	g := NewGraph("keyby_chain")

	src := AddSource(g, "src", intSource(n), defaultOption[int]())

	keyed := Chain(src, "key", func(v int) (int, error) {
		return v, nil
	}, defaultOption[int]().WithParallelism(parallelism).WithKeyBy(func(v int) any { return v }))

	var mu sync.Mutex
	seen := map[int]int{}

	opt := defaultOption[int]().WithParallelism(parallelism)
	ChainSink(keyed, "sink", func(v int) error {
		mu.Lock()
		seen[v]++
		mu.Unlock()
		return nil
	}, opt)

	g.Run(context.Background())

	if len(seen) != n {
		t.Fatalf("distinct values seen = %d, want %d (dropped or duplicated tuples)", len(seen), n)
	}
	for v, c := range seen {
		if c != 1 {
			t.Fatalf("value %d seen %d times, want exactly 1", v, c)
		}
	}

	sum := 0
	for v := range seen {
		sum += v
	}
	if want := n * (n - 1) / 2; sum != want {
		t.Fatalf("sum = %d, want %d", sum, want)
	}
}

// Test_KeyBy_Routing_Stable is a narrower, white-box check that the
// KeyBy emitter itself routes a given key to the same destination index
// on every call (the property Test_KeyBy_Determinism relies on at the
// graph level).
func Test_KeyBy_Routing_Stable(t *testing.T) {
	k := &keyByEmitter[int]{keyOf: func(v int) any { return v }}

	for _, key := range []int{0, 1, 2, 42, 9999, -7} {
		first := k.Destination(key, 4)
		for i := 0; i < 5; i++ {
			if got := k.Destination(key, 4); got != first {
				t.Fatalf("key %d routed to %d then %d across repeated calls", key, first, got)
			}
		}
	}
}

// Test_Split_Select_Merge exercises spec §4.5's split/select/merge
// primitives: tuples fan out to k branches by parity, each branch runs
// independently, and Merge recombines them losslessly.
func Test_Split_Select_Merge(t *testing.T) {
	const n = 1000

	g := NewGraph("split_merge")

	src := AddSource(g, "src", intSource(n), defaultOption[int]())

	branches := Split(src, "parity", 2, func(v int) int { return v % 2 }, defaultOption[int]())

	even := Chain(Select(branches, 0), "even_tag", func(v int) (int, error) {
		return v, nil
	}, defaultOption[int]())
	odd := Chain(Select(branches, 1), "odd_tag", func(v int) (int, error) {
		return v, nil
	}, defaultOption[int]())

	merged := Merge(even, odd)

	var mu sync.Mutex
	var sum, count int
	ChainSink(merged, "sink", func(v int) error {
		mu.Lock()
		sum += v
		count++
		mu.Unlock()
		return nil
	}, defaultOption[int]())

	g.Run(context.Background())

	if count != n {
		t.Fatalf("count = %d, want %d", count, n)
	}
	if want := n * (n - 1) / 2; sum != want {
		t.Fatalf("sum = %d, want %d", sum, want)
	}
}

// Test_Batched_Vs_Unbatched_Equivalence checks that OutputBatchSize is
// purely a wire-efficiency knob (spec §3: batches are "how envelopes
// cross a channel, not how a replica invokes user code") — the same
// pipeline run once per-tuple (batch size 0) and once batched (batch
// size 16) must produce identical aggregate results.
func Test_Batched_Vs_Unbatched_Equivalence(t *testing.T) {
	const n = 777

	run := func(batchSize int) (sum, count int) {
		g := NewGraph("batch_equiv")
		opt := defaultOption[int]().WithOutputBatchSize(batchSize)

		src := AddSource(g, "src", intSource(n), opt)
		mapped := Chain(src, "id", func(v int) (int, error) { return v, nil }, opt)

		var mu sync.Mutex
		ChainSink(mapped, "sink", func(v int) error {
			mu.Lock()
			sum += v
			count++
			mu.Unlock()
			return nil
		}, opt)

		g.Run(context.Background())
		return
	}

	sum0, count0 := run(0)
	sum16, count16 := run(16)

	if sum0 != sum16 || count0 != count16 {
		t.Fatalf("batched vs unbatched mismatch: (%d,%d) vs (%d,%d)", sum0, count0, sum16, count16)
	}
	if want := n * (n - 1) / 2; sum0 != want {
		t.Fatalf("sum = %d, want %d", sum0, want)
	}
}
