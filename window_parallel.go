package wflow

// ParallelWindows implements spec §4.4's Parallel_Windows: P independent
// KeyedWindows instances, one per replica, each owning every window id
// for which (id mod P) == replicaIndex. A tuple with timestamp ts is
// still routed to every window containing it — ownership only decides
// which of the P replicas keeps that window's state — so the effective
// slide for any one replica is P*slide_len between windows it actually
// materializes, matching the spec's description of the technique.
type ParallelWindows[K comparable, T any, A any] struct {
	replicas []*KeyedWindows[K, T, A]
}

// NewParallelWindows builds P ownership-partitioned window indices sharing
// one Aggregator definition.
func NewParallelWindows[K comparable, T any, A any](kind windowKind, winLen, slideLen, lateness uint64, agg Aggregator[T, A], parallelism int) *ParallelWindows[K, T, A] {
	pw := &ParallelWindows[K, T, A]{replicas: make([]*KeyedWindows[K, T, A], parallelism)}
	for i := range pw.replicas {
		replicaIndex := i
		kw := NewKeyedWindows[K, T, A](kind, winLen, slideLen, lateness, agg)
		kw.owns = func(windowID uint64) bool {
			return int(windowID%uint64(parallelism)) == replicaIndex
		}
		pw.replicas[i] = kw
	}
	return pw
}

// Add must be called on every replica that could own a window containing
// ts — in practice all P replicas are fed every tuple and each silently
// ignores the windows it does not own via KeyedWindows.owned.
func (pw *ParallelWindows[K, T, A]) Add(replicaIndex int, key K, ts uint64, payload T) []WindowResult[K, A] {
	return pw.replicas[replicaIndex].Add(key, ts, payload)
}

// Advance fires a single replica's TB windows against a new watermark.
func (pw *ParallelWindows[K, T, A]) Advance(replicaIndex int, watermark uint64) []WindowResult[K, A] {
	return pw.replicas[replicaIndex].Advance(watermark)
}

func (pw *ParallelWindows[K, T, A]) GetNumIgnoredTuples() uint64 {
	var total uint64
	for _, kw := range pw.replicas {
		total += kw.GetNumIgnoredTuples()
	}
	return total
}

// Replicas returns the P ownership-partitioned KeyedWindows instances, one
// per window replica, in the order ChainWindowed expects them: Replicas()[d]
// is the KeyedWindows that should own replica d's share of window state —
// this is the only way to get a ParallelWindows' per-replica indices out to
// the caller that builds the Pipe, since ChainWindowed takes a []*KeyedWindows
// rather than a ParallelWindows directly.
func (pw *ParallelWindows[K, T, A]) Replicas() []*KeyedWindows[K, T, A] {
	return pw.replicas
}
