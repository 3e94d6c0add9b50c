package wflow

import "sort"

type windowKind int

const (
	windowNone windowKind = iota
	windowCB
	windowTB
)

// WindowKind re-exports windowKind under a public name so callers outside
// this package (graphconfig, cmd) can select CBWindow/TBWindow when
// building a KeyedWindows to pass to ChainWindowed.
type WindowKind = windowKind

const (
	CBWindow WindowKind = windowCB
	TBWindow WindowKind = windowTB
)

// WindowResult is the payload a windowed replica emits once a window
// fires: the key, the window's identity, its [Start, End) range, and the
// aggregate value produced by combining every tuple routed to it.
type WindowResult[K comparable, A any] struct {
	Key      K
	WindowID uint64
	Start    uint64
	End      uint64
	Aggregate A
}

// windowState is one open window for one key (spec §3 "Window").
type windowState[A any] struct {
	id      uint64
	start   uint64
	end     uint64
	count   uint64
	agg     A
	created bool
}

// keyPartition holds every open window plus the count-based arrival
// counter for a single key.
type keyPartition[A any] struct {
	windows  []*windowState[A]
	arrivals uint64 // count-based arrival counter, spec §4.4

	// closedEnd is the highest End of any TB window this partition has
	// already fired; a later arrival targeting a window whose End is at
	// or before closedEnd is late past recovery and gets dropped rather
	// than resurrecting a destroyed window.
	closedEnd uint64
}

// Aggregator describes how a windowed/aggregator replica combines tuples
// into a window's running state: Zero produces the identity value for a
// freshly created window, Add folds one payload in.
type Aggregator[T any, A any] struct {
	Zero func() A
	Add  func(acc A, payload T) A
}

// KeyedWindows is the per-key window index and firing engine described in
// spec §4.4: "Keyed_Windows". It is deliberately independent of the
// envelope/emitter machinery so it can be reused unmodified by
// ParallelWindows.
type KeyedWindows[K comparable, T any, A any] struct {
	kind     windowKind
	winLen   uint64
	slideLen uint64
	lateness uint64

	agg Aggregator[T, A]

	partitions map[K]*keyPartition[A]

	ignoredTuples uint64

	// ownership restricts which window ids this instance is responsible
	// for, used by Parallel_Windows (nil means "all windows", the
	// non-parallel case).
	owns func(windowID uint64) bool
}

// NewKeyedWindows builds a CB or TB windows index for one keyed
// substream, per the Option the operator was built with.
func NewKeyedWindows[K comparable, T any, A any](kind windowKind, winLen, slideLen, lateness uint64, agg Aggregator[T, A]) *KeyedWindows[K, T, A] {
	return &KeyedWindows[K, T, A]{
		kind:       kind,
		winLen:     winLen,
		slideLen:   slideLen,
		lateness:   lateness,
		agg:        agg,
		partitions: map[K]*keyPartition[A]{},
	}
}

func (kw *KeyedWindows[K, T, A]) partition(key K) *keyPartition[A] {
	p, ok := kw.partitions[key]
	if !ok {
		p = &keyPartition[A]{}
		kw.partitions[key] = p
	}
	return p
}

// firstWindowIDCB implements spec §4.4's CB identification:
// first_window_id = ceil((count - win_len) / slide_len).
func (kw *KeyedWindows[K, T, A]) firstWindowIDCB(countAfterArrival uint64) uint64 {
	count := countAfterArrival - 1 // 0-indexed arrival count, spec uses "count" prior to this tuple
	if count < kw.winLen {
		return 0
	}
	diff := count - kw.winLen
	return ceilDiv(diff, kw.slideLen)
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// windowsForCount returns the ids of every CB window that should contain
// an arrival at 0-indexed position `count`, per spec §4.4: window id
// covers positions [id*slide, id*slide+win_len); count belongs to it iff
// id*slide <= count < id*slide+win_len. Started windows only grow more
// numerous as id increases until id*slide exceeds count, so the loop can
// stop there.
func (kw *KeyedWindows[K, T, A]) windowsForCount(count uint64) []uint64 {
	var ids []uint64
	start := kw.firstWindowIDCB(count + 1)
	for id := start; id*kw.slideLen <= count; id++ {
		if id*kw.slideLen+kw.winLen > count {
			ids = append(ids, id)
		}
		if kw.slideLen == 0 {
			break
		}
	}
	return ids
}

// windowsForTimestamp returns the ids of every TB window
// [k*slide, k*slide+win_len) containing ts, per spec §4.4.
func (kw *KeyedWindows[K, T, A]) windowsForTimestamp(ts uint64) []uint64 {
	var ids []uint64
	if kw.slideLen == 0 {
		return ids
	}
	// smallest k such that k*slide + win_len > ts, i.e. k > (ts - win_len)/slide
	var kMin uint64
	if ts+1 > kw.winLen {
		kMin = ceilDiv(ts+1-kw.winLen, kw.slideLen)
	}
	for k := kMin; k*kw.slideLen <= ts; k++ {
		ids = append(ids, k)
	}
	return ids
}

func (kw *KeyedWindows[K, T, A]) windowRange(id uint64) (start, end uint64) {
	start = id * kw.slideLen
	end = start + kw.winLen
	return
}

func (kw *KeyedWindows[K, T, A]) owned(id uint64) bool {
	return kw.owns == nil || kw.owns(id)
}

// Add routes one arrival into every open window it belongs to, creating
// new windows lazily at the tail, and returns the windows that fire
// immediately as a result (only possible for CB windows: spec §4.4
// "when a window receives its win_len-th tuple, fire immediately").
func (kw *KeyedWindows[K, T, A]) Add(key K, ts uint64, payload T) []WindowResult[K, A] {
	p := kw.partition(key)

	var ids []uint64
	switch kw.kind {
	case windowCB:
		p.arrivals++
		ids = kw.windowsForCount(p.arrivals - 1)
	case windowTB:
		ids = kw.windowsForTimestamp(ts)
	}

	var fired []WindowResult[K, A]

	for _, id := range ids {
		if !kw.owned(id) {
			continue
		}

		if kw.kind == windowTB {
			_, end := kw.windowRange(id)
			if end <= p.closedEnd {
				// the window this arrival belongs to has already fired
				// and been destroyed; too late to recover (spec §4.4).
				kw.ignoredTuples++
				continue
			}
		}

		w := kw.findOrCreate(p, id)

		w.agg = kw.agg.Add(w.agg, payload)
		w.count++

		if kw.kind == windowCB && w.count >= kw.winLen {
			fired = append(fired, kw.fire(p, w))
		}
	}

	return fired
}

func (kw *KeyedWindows[K, T, A]) findOrCreate(p *keyPartition[A], id uint64) *windowState[A] {
	for _, w := range p.windows {
		if w.id == id {
			return w
		}
	}

	start, end := kw.windowRange(id)
	w := &windowState[A]{id: id, start: start, end: end, agg: kw.agg.Zero(), created: true}
	p.windows = append(p.windows, w)
	sort.Slice(p.windows, func(i, j int) bool { return p.windows[i].end < p.windows[j].end })
	return w
}

// Advance applies a new watermark to every key partition and fires every
// TB window whose end + lateness the watermark has reached, in
// non-decreasing end-time order, per spec §4.4. It is the only path by
// which TB windows fire; for CB windows it fires nothing and returns nil.
func (kw *KeyedWindows[K, T, A]) Advance(watermark uint64) []WindowResult[K, A] {
	if kw.kind != windowTB {
		return nil
	}

	var fired []WindowResult[K, A]
	for key, p := range kw.partitions {
		remaining := p.windows[:0]
		for _, w := range p.windows {
			if watermark >= w.end+kw.lateness {
				fired = append(fired, WindowResult[K, A]{Key: key, WindowID: w.id, Start: w.start, End: w.end, Aggregate: w.agg})
				if w.end > p.closedEnd {
					p.closedEnd = w.end
				}
				continue
			}
			remaining = append(remaining, w)
		}
		p.windows = remaining
	}

	sort.Slice(fired, func(i, j int) bool { return fired[i].End < fired[j].End })
	return fired
}

func (kw *KeyedWindows[K, T, A]) fire(p *keyPartition[A], w *windowState[A]) WindowResult[K, A] {
	result := WindowResult[K, A]{WindowID: w.id, Start: w.start, End: w.end, Aggregate: w.agg}
	for i, candidate := range p.windows {
		if candidate == w {
			p.windows = append(p.windows[:i], p.windows[i+1:]...)
			break
		}
	}
	return result
}

// GetNumIgnoredTuples reports how many late TB arrivals were dropped
// because their window had already fired and been destroyed (spec §4.4,
// exercised by Testable Property scenario 4).
func (kw *KeyedWindows[K, T, A]) GetNumIgnoredTuples() uint64 {
	return kw.ignoredTuples
}
