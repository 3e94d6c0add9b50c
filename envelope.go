package wflow

import (
	"bytes"
	"encoding/gob"
)

// Envelope is the unit of transport between replicas. It carries a single
// user payload plus the event-time bookkeeping the engine needs: the
// tuple's own timestamp, the emitting channel's current watermark, and
// (for count-based windows) a monotone per-source arrival identifier.
//
// A Punctuation envelope carries no meaningful Payload; it exists only to
// advance a channel's watermark on an otherwise quiet key class.
type Envelope[T any] struct {
	Payload     T
	Timestamp   uint64
	Watermark   uint64
	Punctuation bool
	Identifier  uint64

	// channel is the index of the upstream emitter's destination slot this
	// envelope arrived on; replicas use it to feed the watermark manager
	// and, in DETERMINISTIC/PROBABILISTIC mode, the input merge.
	channel int
}

// Batch is the on-the-wire shape of the channels between replicas: a
// bounded run of envelopes, each retaining its own (timestamp, watermark)
// in parallel with the others, bound for one destination. When an
// emitter's batch size is 0 every Batch holds exactly one envelope — the
// "per-tuple" fast path is simply the degenerate one-slot batch, matching
// the teacher project's own `chan []*Packet` edges.
type Batch[T any] struct {
	Envelopes   []*Envelope[T]
	Destination int
}

func newBatch[T any](destination int, capacity int) *Batch[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Batch[T]{
		Envelopes:   make([]*Envelope[T], 0, capacity),
		Destination: destination,
	}
}

func (b *Batch[T]) append(e *Envelope[T]) {
	b.Envelopes = append(b.Envelopes, e)
}

func (b *Batch[T]) full(capacity int) bool {
	return capacity > 0 && len(b.Envelopes) >= capacity
}

func (b *Batch[T]) empty() bool {
	return len(b.Envelopes) == 0
}

// watermark is the trailing watermark for the batch: the maximum of the
// watermarks its slots carried, which by the per-channel monotonicity
// invariant is also the last one appended.
func (b *Batch[T]) watermark() uint64 {
	wm := uint64(0)
	for _, e := range b.Envelopes {
		if e.Watermark > wm {
			wm = e.Watermark
		}
	}
	return wm
}

// WatermarkInfinite is the watermark of the end-of-stream punctuation a
// replica emits downstream at teardown. Envelope has no separate
// end-marker field; this watermark value alone marks end of stream.
const WatermarkInfinite = ^uint64(0)

// deepCopyPayload clones a payload with encoding/gob, the same mechanism
// the teacher project uses for its Broadcast/ForkDuplicate duplication.
// T must be gob-encodable; this is only invoked from the Broadcast emitter.
func deepCopyPayload[T any](in T) (T, error) {
	var out T
	buf := &bytes.Buffer{}
	enc, dec := gob.NewEncoder(buf), gob.NewDecoder(buf)

	if err := enc.Encode(in); err != nil {
		return out, err
	}
	if err := dec.Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}
