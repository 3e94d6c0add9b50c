package wflow

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Kind enumerates the routing modes an Emitter implements. Spec'd as a
// tagged sum (design note §9: "Inheritance tree → tagged sum") rather than
// an interface-per-variant hierarchy — dispatch is by kind, not by a
// virtual call, except at the single boundary (the Emit method itself)
// where it matters for clarity.
type Kind int

const (
	// Forward sends every envelope to its single destination.
	Forward Kind = iota
	// Broadcast sends every envelope to every destination, duplicating
	// logical ownership with a deep copy per extra destination.
	Broadcast
	// KeyBy routes by hash(key) mod numDestinations, giving every key a
	// single stable destination for the life of the graph.
	KeyBy
	// Reshuffle routes round-robin, advancing one step per envelope.
	Reshuffle
)

func (k Kind) String() string {
	switch k {
	case Forward:
		return "forward"
	case Broadcast:
		return "broadcast"
	case KeyBy:
		return "keyby"
	case Reshuffle:
		return "reshuffle"
	default:
		return "unknown"
	}
}

// Default punctuation-generation cadence (spec §4.2), overridable via
// WF_DEFAULT_WM_AMOUNT and WF_DEFAULT_WM_INTERVAL_USEC.
const (
	defaultWMAmount   = 64
	defaultWMInterval = 100 * time.Millisecond
)

func wmAmount() int {
	if v := os.Getenv("WF_DEFAULT_WM_AMOUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultWMAmount
}

func wmInterval() time.Duration {
	if v := os.Getenv("WF_DEFAULT_WM_INTERVAL_USEC"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return time.Duration(n) * time.Microsecond
		}
	}
	return defaultWMInterval
}

// Emitter is the output side of a replica. One Emitter is owned by exactly
// one upstream replica and fans out to 1..K downstream channels.
type Emitter[T any] interface {
	// Emit routes a single envelope (payload or punctuation) to its
	// destination(s), batching it if the emitter's batch size is > 0.
	Emit(e *Envelope[T])
	// Flush forces any partially-filled per-destination batch out,
	// called at end-of-stream and just before certain punctuations leave.
	Flush()
	// Close tears down the emitter's destinations and free list.
	Close()
	// Kind reports the routing mode, mostly for stats/logging.
	Kind() Kind
	// Channels exposes the emitter's destination channels in order, so the
	// graph assembler can wire them to the next stage's input mergers.
	Channels() []chan *Batch[T]
}

// destination is one downstream channel plus its own batching and
// monotonicity state. Shared by every Emitter variant.
type destination[T any] struct {
	channel      chan *Batch[T]
	current      *Batch[T]
	lastSentWM   uint64
	deliveries   int64 // envelopes delivered since the last punctuation sample
	mu           sync.Mutex
}

func newDestination[T any](buffer int) *destination[T] {
	return &destination[T]{channel: make(chan *Batch[T], buffer)}
}

// send enforces per-destination watermark monotonicity (spec §4.2) and
// either buffers into the active batch or pushes immediately when
// batchSize is 0.
func (d *destination[T]) send(e *Envelope[T], batchSize int, vertexID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Watermark < d.lastSentWM {
		panicInvariant(vertexID, "watermark regression on destination: %d < %d", e.Watermark, d.lastSentWM)
	}
	d.lastSentWM = e.Watermark

	if !e.Punctuation {
		atomic.AddInt64(&d.deliveries, 1)
	}

	if batchSize <= 0 {
		b := newBatch[T](0, 1)
		b.append(e)
		d.channel <- b
		return
	}

	if d.current == nil {
		d.current = newBatch[T](0, batchSize)
	}
	d.current.append(e)

	if d.current.full(batchSize) || e.Punctuation {
		d.channel <- d.current
		d.current = nil
	}
}

func (d *destination[T]) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != nil && !d.current.empty() {
		d.channel <- d.current
		d.current = nil
	}
}

// sampleAndReset returns the delivery count observed since the previous
// call and resets the counter, used by punctuation generation (§4.2).
func (d *destination[T]) sampleAndReset() int64 {
	return atomic.SwapInt64(&d.deliveries, 0)
}

func (d *destination[T]) close() {
	close(d.channel)
}

// base holds the fields every Emitter kind shares: the vertex that owns
// it, its destinations, the free list, batch size, and punctuation-
// generation bookkeeping.
type base[T any] struct {
	vertexID     string
	destinations []*destination[T]
	free         *freeList[T]
	batchSize    int

	currentWM func() uint64 // current minimum input watermark, supplied by the owning replica

	sinceLastPunct   int
	lastPunctuation  time.Time
	punctuationMu    sync.Mutex
}

func newBase[T any](vertexID string, numDestinations, bufferSize, batchSize int) base[T] {
	dests := make([]*destination[T], numDestinations)
	for i := range dests {
		dests[i] = newDestination[T](bufferSize)
	}
	return base[T]{
		vertexID:        vertexID,
		destinations:    dests,
		free:            newFreeList[T](bufferSize * 2),
		batchSize:       batchSize,
		lastPunctuation: time.Time{},
	}
}

func (b *base[T]) Channels() []chan *Batch[T] {
	out := make([]chan *Batch[T], len(b.destinations))
	for i, d := range b.destinations {
		out[i] = d.channel
	}
	return out
}

func (b *base[T]) Flush() {
	for _, d := range b.destinations {
		d.flush()
	}
}

func (b *base[T]) Close() {
	b.Flush()
	for _, d := range b.destinations {
		d.close()
	}
	b.free.drain()
}

// maybeGeneratePunctuations implements the punctuation-generation rule in
// spec §4.2: every wmAmount() envelopes, if wall-clock time since the
// last check exceeds wmInterval(), any destination with zero deliveries
// in the sample gets a punctuation carrying the current minimum upstream
// watermark; destinations that did see traffic just have their counter
// reset (by sampleAndReset, called unconditionally below).
func (b *base[T]) maybeGeneratePunctuations() {
	b.punctuationMu.Lock()
	b.sinceLastPunct++
	due := b.sinceLastPunct >= wmAmount() && time.Since(b.lastPunctuation) >= wmInterval()
	if due {
		b.sinceLastPunct = 0
		b.lastPunctuation = time.Now()
	}
	b.punctuationMu.Unlock()

	if !due {
		return
	}

	wm := b.currentWM()
	for _, d := range b.destinations {
		deliveries := d.sampleAndReset()
		if deliveries == 0 {
			p := b.free.get()
			p.Punctuation = true
			p.Watermark = wm
			d.send(p, b.batchSize, b.vertexID)
		}
	}
}
