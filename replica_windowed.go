package wflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// windowedReplica wraps a KeyedWindows/ParallelWindows index with a merged
// input and an Emitter[WindowResult[K, A]]. It keeps its own run loop
// (rather than replica[IN, OUT]'s) because TB windows must be checked for
// firing on *every* watermark advance, including the punctuations
// replica.run() otherwise treats as a no-op for the operator body — here
// a punctuation is exactly the trigger that may let a TB window fire with
// no further tuples arriving on its key.
type windowedReplica[T any, K comparable, A any] struct {
	id         string
	vertexType OperatorKind // KindWindowed or KindAggregator
	index      int

	merger  *inputMerger[T]
	emitter Emitter[WindowResult[K, A]]

	kw       *KeyedWindows[K, T, A]
	keyOf    func(T) K
	tsOf     func(T) uint64 // falls back to envelope Timestamp when nil

	metricsOn bool
	spanOn    bool
	recorder  func(vertexID, vertexType string, phase string, e any)
	closing   func()
	onError   func(*Error)

	stats *ReplicaStats // nil unless a StatsWriter was attached via the Graph

	done chan struct{}
}

// newWindowedReplica builds a windowed/aggregator replica over kw, keyed
// by keyOf. tsOf may be nil to use the input envelope's own Timestamp
// (the common case; only schemaless map-shaped payloads need an explicit
// field extractor, see window_key.go's FieldTimestamp).
func newWindowedReplica[T any, K comparable, A any](id string, index int, kind OperatorKind, kw *KeyedWindows[K, T, A], keyOf func(T) K, tsOf func(T) uint64, opt *Option[T]) *windowedReplica[T, K, A] {
	ro := replicaOptionsFrom(opt)
	return &windowedReplica[T, K, A]{
		id:         id,
		vertexType: kind,
		index:      index,
		kw:         kw,
		keyOf:      keyOf,
		tsOf:       tsOf,
		metricsOn:  ro.metrics,
		spanOn:     ro.span,
		recorder:   ro.recorder,
		closing:    ro.closing,
		onError:    ro.onError,
		done:       make(chan struct{}),
	}
}

func (r *windowedReplica[T, K, A]) run(ctx context.Context) {
	go func() {
		defer r.teardown()

		for {
			e, ok := r.merger.next()
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}

			if e.Punctuation {
				// The end-of-stream punctuation only advances the watermark
				// like any other; teardown runs once, from the defer above,
				// after every input channel has closed and drained.
				r.fire(r.kw.Advance(r.merger.wm.current()))
				continue
			}

			r.processOne(e)
		}
	}()
}

func (r *windowedReplica[T, K, A]) processOne(e *Envelope[T]) {
	// Records a user-functor panic (aggregator Zero/Add, key extractor,
	// tsOf) as a UserError, same as replica.recover, then re-panics — user
	// code failures are fatal to the process (spec §4.1, §7), never
	// swallowed.
	defer func() {
		if rec := recover(); rec != nil {
			if _, isInvariant := rec.(*InvariantViolation); isInvariant {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			errorsCounter.Add(context.Background(), 1, replicaAttributes(r.id, string(r.vertexType))...)
			if r.onError != nil {
				r.onError(&Error{
					Err:        &UserError{VertexID: r.id, VertexType: string(r.vertexType), Err: err},
					VertexID:   r.id,
					VertexType: r.vertexType,
					Time:       time.Now(),
				})
			}
			panic(rec)
		}
	}()

	start := time.Now()
	if r.recorder != nil {
		r.recorder(r.id, string(r.vertexType), "start", e)
	}

	var attrs []attribute.KeyValue
	if r.metricsOn {
		attrs = attrsWithRun(replicaAttributes(r.id, string(r.vertexType)))
		inCounter.Add(context.Background(), 1, attrs...)
	}
	if r.stats != nil {
		r.stats.recordIn(approxSize(e.Payload))
	}

	key := r.keyOf(e.Payload)
	ts := e.Timestamp
	if r.tsOf != nil {
		ts = r.tsOf(e.Payload)
	}

	fired := r.kw.Add(key, ts, e.Payload)
	fired = append(fired, r.kw.Advance(r.merger.wm.current())...)
	r.fire(fired)

	if r.metricsOn {
		batchDuration.Record(context.Background(), time.Since(start).Nanoseconds(), attrs...)
		outCounter.Add(context.Background(), 1, attrs...)
	}
	if r.stats != nil {
		r.stats.recordServiceTime(time.Since(start))
		r.stats.recordOut(len(fired))
	}
	if r.recorder != nil {
		r.recorder(r.id, string(r.vertexType), "end", e)
	}
}

func (r *windowedReplica[T, K, A]) fire(results []WindowResult[K, A]) {
	wm := r.merger.wm.current()
	for _, result := range results {
		r.emitter.Emit(&Envelope[WindowResult[K, A]]{
			Payload:   result,
			Timestamp: result.End,
			Watermark: wm,
		})
	}
}

// currentWatermark exposes the replica's merged input watermark, for a
// downstream emitter's punctuation-generation cadence.
func (r *windowedReplica[T, K, A]) currentWatermark() uint64 { return r.merger.wm.current() }

func (r *windowedReplica[T, K, A]) setEmitter(e Emitter[WindowResult[K, A]]) { r.emitter = e }

func (r *windowedReplica[T, K, A]) Done() <-chan struct{} { return r.done }

func (r *windowedReplica[T, K, A]) teardown() {
	r.emitter.Flush()
	end := &Envelope[WindowResult[K, A]]{Punctuation: true, Watermark: WatermarkInfinite}
	r.emitter.Emit(end)
	r.emitter.Close()
	if r.closing != nil {
		r.closing()
	}
	close(r.done)
}
