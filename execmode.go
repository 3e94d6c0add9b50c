package wflow

import (
	"container/heap"
	"reflect"
)

// ExecutionMode governs how a replica merges its input channels and what
// ordering guarantee the merge gives (spec §4.3, §5).
type ExecutionMode int

const (
	// Default consumes each input channel FIFO with no cross-channel
	// ordering; upstream watermarks may reflect wall-clock estimates.
	Default ExecutionMode = iota
	// Deterministic merges inputs in non-decreasing (timestamp,
	// channel-index) order, blocking on any channel whose watermark has
	// not yet advanced past the smallest candidate.
	Deterministic
	// Probabilistic is Deterministic with a bounded slack: a channel is
	// considered "past" a candidate once its watermark exceeds
	// candidate.Timestamp - slack, trading strict ordering for latency.
	Probabilistic
)

func (m ExecutionMode) String() string {
	switch m {
	case Default:
		return "DEFAULT"
	case Deterministic:
		return "DETERMINISTIC"
	case Probabilistic:
		return "PROBABILISTIC"
	default:
		return "UNKNOWN"
	}
}

// mergeItem is one candidate in the ordering heap: a peeked envelope plus
// the channel it came from, used as the ordering tie-break.
type mergeItem[T any] struct {
	envelope *Envelope[T]
	channel  int
}

type mergeHeap[T any] []mergeItem[T]

func (h mergeHeap[T]) Len() int { return len(h) }
func (h mergeHeap[T]) Less(i, j int) bool {
	if h[i].envelope.Timestamp != h[j].envelope.Timestamp {
		return h[i].envelope.Timestamp < h[j].envelope.Timestamp
	}
	return h[i].channel < h[j].channel
}
func (h mergeHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap[T]) Push(x any)         { *h = append(*h, x.(mergeItem[T])) }
func (h *mergeHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// inputMerger pulls batches off n_in upstream channels and hands envelopes
// to a replica one at a time, honoring the replica's ExecutionMode. It
// owns the watermarkManager too, since every update must be visible to
// the merge decision immediately (spec §4.3: "uses the current input
// watermark taken after this update").
type inputMerger[T any] struct {
	mode     ExecutionMode
	slack    uint64
	channels []chan *Batch[T]
	wm       *watermarkManager

	// per-channel read-ahead queue and open/closed state, used by the
	// Deterministic/Probabilistic merge.
	queue  [][]*Envelope[T]
	closed []bool
	heapH  mergeHeap[T]
}

func newInputMerger[T any](mode ExecutionMode, slack uint64, channels []chan *Batch[T]) *inputMerger[T] {
	return &inputMerger[T]{
		mode:     mode,
		slack:    slack,
		channels: channels,
		wm:       newWatermarkManager(len(channels)),
		queue:    make([][]*Envelope[T], len(channels)),
		closed:   make([]bool, len(channels)),
	}
}

// next returns the next envelope the replica should process, or false
// once every input channel has closed and drained.
func (m *inputMerger[T]) next() (*Envelope[T], bool) {
	switch m.mode {
	case Deterministic, Probabilistic:
		return m.nextOrdered()
	default:
		return m.nextFIFO()
	}
}

// nextFIFO implements Default mode: block on a dynamic select across all
// still-open channels (reflect.Select, since n_in is only known at graph
// construction time), flatten the first non-empty batch, and return its
// envelopes one at a time via the per-channel queue.
func (m *inputMerger[T]) nextFIFO() (*Envelope[T], bool) {
	for {
		if e := m.popQueued(); e != nil {
			return m.observe(e), true
		}

		idx, ok := m.selectOpenChannel()
		if !ok {
			return nil, false
		}

		batch, chOpen := <-m.channels[idx]
		if !chOpen {
			m.closed[idx] = true
			continue
		}
		m.queue[idx] = append(m.queue[idx], batch.Envelopes...)
	}
}

// popQueued returns any envelope already buffered in a per-channel queue,
// preferring the lowest-indexed channel (arbitrary but stable tie-break).
func (m *inputMerger[T]) popQueued() *Envelope[T] {
	for i := range m.queue {
		if len(m.queue[i]) > 0 {
			e := m.queue[i][0]
			m.queue[i] = m.queue[i][1:]
			e.channel = i
			return e
		}
	}
	return nil
}

func (m *inputMerger[T]) selectOpenChannel() (int, bool) {
	var cases []reflect.SelectCase
	var idxs []int
	for i, ch := range m.channels {
		if m.closed[i] {
			continue
		}
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
		idxs = append(idxs, i)
	}
	if len(cases) == 0 {
		return 0, false
	}

	chosen, recv, recvOK := reflect.Select(cases)
	idx := idxs[chosen]
	if !recvOK {
		m.closed[idx] = true
		return m.selectOpenChannel()
	}
	batch := recv.Interface().(*Batch[T])
	m.queue[idx] = append(m.queue[idx], batch.Envelopes...)
	return idx, true
}

// observe feeds the envelope's watermark into the watermark manager and
// stamps the current minimum input watermark onto the envelope so
// downstream emission logic can read it back without recomputing.
func (m *inputMerger[T]) observe(e *Envelope[T]) *Envelope[T] {
	m.wm.update(e.channel, e.Watermark)
	return e
}

// nextOrdered implements Deterministic/Probabilistic mode: every open
// channel must have at least one buffered envelope (or be closed) before
// a candidate is chosen, which — combined with each channel delivering
// envelopes in producer order — gives a correct non-decreasing
// (timestamp, channel) merge as long as payload timestamps are
// non-decreasing per channel, the common case this mode is designed for.
// Probabilistic relaxes this: a channel need not be filled if its last
// known watermark already exceeds candidate.Timestamp - slack.
func (m *inputMerger[T]) nextOrdered() (*Envelope[T], bool) {
	inHeap := func(channel int) bool {
		for _, it := range m.heapH {
			if it.channel == channel {
				return true
			}
		}
		return false
	}

	for {
		allClosed := true
		for i, ch := range m.channels {
			if m.closed[i] {
				continue
			}
			allClosed = false

			if len(m.queue[i]) > 0 {
				continue
			}
			if m.mode == Deterministic && inHeap(i) {
				continue
			}

			if m.mode == Probabilistic && m.heapH.Len() > 0 {
				candidateTS := m.heapH[0].envelope.Timestamp
				if m.wm.wm[i].Load()+m.slack >= candidateTS {
					continue
				}
			}

			batch, ok := <-ch
			if !ok {
				m.closed[i] = true
				continue
			}
			m.queue[i] = append(m.queue[i], batch.Envelopes...)
		}

		for i := range m.queue {
			for len(m.queue[i]) > 0 {
				e := m.queue[i][0]
				m.queue[i] = m.queue[i][1:]
				e.channel = i
				if e.Punctuation {
					m.wm.update(i, e.Watermark)
					continue
				}
				heap.Push(&m.heapH, mergeItem[T]{envelope: e, channel: i})
			}
		}

		if m.heapH.Len() > 0 {
			ready := true
			if m.mode == Deterministic {
				for i := range m.channels {
					if m.closed[i] || inHeap(i) {
						continue
					}
					ready = false
				}
			}
			if ready {
				item := heap.Pop(&m.heapH).(mergeItem[T])
				return m.observe(item.envelope), true
			}
		}

		if allClosed && m.heapH.Len() == 0 {
			return nil, false
		}
		if allClosed && m.heapH.Len() > 0 {
			item := heap.Pop(&m.heapH).(mergeItem[T])
			return m.observe(item.envelope), true
		}
	}
}
