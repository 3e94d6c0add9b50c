package wflow

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// approxSize estimates a payload's wire size for the statistics file's
// bytes_sent/bytes_received fields: exact for the common []byte/string
// payload shapes, a reflect.Type.Size() fallback (the in-memory struct
// size, not a true serialized size) for everything else — good enough for
// relative operator-to-operator comparison, which is this counter's only
// real use.
func approxSize[T any](v T) int {
	switch x := any(v).(type) {
	case []byte:
		return len(x)
	case string:
		return len(x)
	default:
		t := reflect.TypeOf(v)
		if t == nil {
			return 0
		}
		return int(t.Size())
	}
}

// OperatorKind names the five replica bodies spec §4.1 describes.
type OperatorKind string

const (
	KindSource     OperatorKind = "source"
	KindMap        OperatorKind = "map"
	KindFilter     OperatorKind = "filter"
	KindFlatMap    OperatorKind = "flatmap"
	KindWindowed   OperatorKind = "windowed"
	KindAggregator OperatorKind = "aggregator"
	KindSink       OperatorKind = "sink"
)

// handler is one replica's fully-decorated per-envelope entry point,
// mirroring the teacher project's `handler func([]*Packet)` — generalized
// from a batch-of-packets callback to a single-envelope callback, since
// this engine's unit of processing is the envelope (a batch is just how
// envelopes cross a channel, not how a replica invokes user code).
type handler[IN any] func(e *Envelope[IN])

// replica is a single worker instance of an operator: one goroutine bound
// to its merged input and its output Emitter. IN and OUT differ for Map
// and FlatMap (the payload type changes across the operator); they are the
// same type for Filter and Sink. Source and windowed/aggregator operators
// have their own replica types (sourceReplica, windowedReplica). The
// decorator chain below (record → metrics → span → recover →
// body) is grounded directly on the teacher project's vertex.go,
// generalized to the envelope type, and only ever touches IN — it has no
// need to know OUT, since recording/metrics/tracing/recovery all operate
// on the envelope a replica *received*, not on what it chooses to emit.
type replica[IN any, OUT any] struct {
	id         string
	vertexType OperatorKind
	index      int // replica index within the operator's parallelism
	name       string

	merger  *inputMerger[IN]
	emitter Emitter[OUT] // nil for Sink replicas, which have no downstream

	body handler[IN]

	stats *ReplicaStats // nil unless a StatsWriter was attached via the Graph

	metricsOn bool
	spanOn    bool
	recorder  func(vertexID, vertexType string, phase string, e any)
	closing   func()
	onError   func(*Error)

	done chan struct{}
}

// Error reports a diagnostic recorded during a replica's run — a Puller
// read failure (which does not stop the source), or a user-functor panic
// or returned error (including a Pusher write error) recorded for
// observability just before it re-panics and brings the process down (§7:
// user-code failures are fatal, never recovered into a degraded-but-running
// state).
// It is delivered to the Option's ErrorHandler if one was configured.
type Error struct {
	Err        error
	VertexID   string
	VertexType OperatorKind
	Time       time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("wflow: %s %q: %v", e.VertexType, e.VertexID, e.Err)
}

// run starts the replica's goroutine, which pulls from the merged input
// until every input channel has closed and drained. Source replicas are a
// separate type with their own loop (see replica_source.go).
func (r *replica[IN, OUT]) run(ctx context.Context) {
	body := r.trackStats(r.record(r.metrics(r.span(r.recover(r.body)))))

	go func() {
		defer r.teardown(ctx)

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
				// Punctuations never invoke user code (spec §4.1 step 1);
				// they only exist to have advanced the watermark manager,
				// which nextOrdered/nextFIFO already did via observe().
				// The end-of-stream punctuation is no exception: teardown
				// runs once, from the defer above, after every input
				// channel has closed and drained.
				continue
			}

			body(e)
		}
	}()
}

func (r *replica[IN, OUT]) teardown(ctx context.Context) {
	if r.emitter != nil {
		// flush, then propagate the end-of-stream punctuation downstream.
		r.emitter.Flush()
		end := &Envelope[OUT]{Punctuation: true, Watermark: WatermarkInfinite}
		r.emitter.Emit(end)
		r.emitter.Close()
	}
	if r.closing != nil {
		r.closing()
	}
	close(r.done)
}

// trackStats wraps the body with the statistics-file counters (spec §6's
// per-replica inputs_received/outputs_sent/bytes_*/service-time fields).
// A nil r.stats (no StatsWriter attached to the Graph) skips it entirely.
func (r *replica[IN, OUT]) trackStats(h handler[IN]) handler[IN] {
	if r.stats == nil {
		return h
	}
	return func(e *Envelope[IN]) {
		r.stats.recordIn(approxSize(e.Payload))
		start := time.Now()
		h(e)
		r.stats.recordServiceTime(time.Since(start))
		r.stats.recordOut(approxSize(e.Payload))
	}
}

// record wraps the body with a before/after hook, the spot a recorder
// callback (stats.go) observes every envelope a replica processes —
// grounded on vertex.go's `record` decorator.
func (r *replica[IN, OUT]) record(h handler[IN]) handler[IN] {
	if r.recorder == nil {
		return h
	}
	return func(e *Envelope[IN]) {
		r.recorder(r.id, string(r.vertexType), "start", e)
		h(e)
		r.recorder(r.id, string(r.vertexType), "end", e)
	}
}

// metrics wraps the body with otel counters/histogram recording — grounded
// on vertex.go's `metrics` decorator.
func (r *replica[IN, OUT]) metrics(h handler[IN]) handler[IN] {
	if !r.metricsOn {
		return h
	}
	attrs := replicaAttributes(r.id, string(r.vertexType))
	return func(e *Envelope[IN]) {
		ctx := context.Background()
		inCounter.Add(ctx, 1, attrsWithRun(attrs)...)
		start := time.Now()
		h(e)
		batchDuration.Record(ctx, time.Since(start).Nanoseconds(), attrsWithRun(attrs)...)
		outCounter.Add(ctx, 1, attrsWithRun(attrs)...)
	}
}

func attrsWithRun(attrs []attribute.KeyValue) []attribute.KeyValue {
	return append(attrs, attribute.String("run_id", uuid.NewString()))
}

// span wraps the body in an otel span — grounded on vertex.go's `span`
// decorator.
func (r *replica[IN, OUT]) span(h handler[IN]) handler[IN] {
	if !r.spanOn {
		return h
	}
	return func(e *Envelope[IN]) {
		_, span := startSpan(context.Background(), r.id)
		h(e)
		span.End()
	}
}

// recover wraps the body so a user-functor panic is recorded as a
// UserError — onError sees it, the error counter is incremented — and then
// re-panics, the same way an InvariantViolation already propagates. Spec §4.1
// and §7 are explicit that user-code failures are fatal to the process: "not
// caught; propagate and kill the process… There is no retry, no partial
// failure, no graceful degradation." This wrapper only ever observes and
// reports; it never stops the panic from reaching the runtime.
func (r *replica[IN, OUT]) recover(h handler[IN]) handler[IN] {
	return func(e *Envelope[IN]) {
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
		h(e)
	}
}

// setEmitter attaches the output Emitter once the graph assembler knows
// the downstream stage's parallelism and routing kind — emitters are
// built lazily, one edge at a time, as Chain/ChainSink calls discover
// what a stage connects to.
func (r *replica[IN, OUT]) setEmitter(e Emitter[OUT]) { r.emitter = e }

// Done reports when the replica's goroutine has torn down.
func (r *replica[IN, OUT]) Done() <-chan struct{} { return r.done }

// currentWatermark exposes the replica's merged input watermark to its
// own Emitter, for punctuation generation. It reports 0 while no merger is
// attached. Source replicas track their own clock instead — see
// replica_source.go.
func (r *replica[IN, OUT]) currentWatermark() uint64 {
	if r.merger == nil {
		return 0
	}
	return r.merger.wm.current()
}
