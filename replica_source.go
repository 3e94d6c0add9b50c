package wflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Puller is a Source operator's connector-side read function: it returns
// the next payload's value, its event-time timestamp, and an ok flag that
// is false once the source is exhausted (spec §4.1 "Source"). Connectors
// in sources/kafka, sources/pubsub, sources/redis, and sources/sqs all
// implement this shape.
type Puller[OUT any] func(ctx context.Context) (payload OUT, timestamp uint64, ok bool, err error)

// sourceReplica drives a Puller, wraps every payload it returns in an
// Envelope, and pushes it through the replica's Emitter. It has no
// upstream merger — its "input" is the external connector — so it keeps
// its own small decorator chain rather than reusing replica[IN, OUT]
// (whose decorators are built around observing an *Envelope[IN] already
// taken off a merged input channel).
type sourceReplica[OUT any] struct {
	id      string
	pull    Puller[OUT]
	emitter Emitter[OUT]

	metricsOn bool
	spanOn    bool
	recorder  func(vertexID, vertexType string, phase string, e any)
	closing   func()
	onError   func(*Error)

	arrivalID uint64
	watermark atomic.Uint64
	done      chan struct{}

	stats *ReplicaStats // nil unless a StatsWriter was attached via the Graph
}

// currentWatermark reports the timestamp of the last payload this source
// replica pulled, used as its own watermark surrogate for punctuation
// generation — a Source has no upstream to take a minimum over.
func (r *sourceReplica[OUT]) currentWatermark() uint64 {
	return r.watermark.Load()
}

func (r *sourceReplica[OUT]) run(ctx context.Context) {
	go func() {
		defer r.teardown()

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			ok := r.pullOnce(ctx)
			if !ok {
				return
			}
		}
	}()
}

// pullOnce drives a single Puller call under the recover/metrics/span
// decorators, returning false once the connector is exhausted.
func (r *sourceReplica[OUT]) pullOnce(ctx context.Context) (more bool) {
	more = true

	// Records a Puller panic as a UserError, same as replica.recover, then
	// re-panics — user code failures are fatal to the process (spec §4.1,
	// §7), never swallowed.
	defer func() {
		if rec := recover(); rec != nil {
			if _, isInvariant := rec.(*InvariantViolation); isInvariant {
				panic(rec)
			}
			err, ok := rec.(error)
			if !ok {
				err = fmt.Errorf("%v", rec)
			}
			errorsCounter.Add(ctx, 1, replicaAttributes(r.id, string(KindSource))...)
			if r.onError != nil {
				r.onError(&Error{
					Err:        &UserError{VertexID: r.id, VertexType: string(KindSource), Err: err},
					VertexID:   r.id,
					VertexType: KindSource,
					Time:       time.Now(),
				})
			}
			panic(rec)
		}
	}()

	start := time.Now()
	payload, ts, pullOK, err := r.pull(ctx)
	if err != nil {
		if r.onError != nil {
			r.onError(&Error{Err: err, VertexID: r.id, VertexType: KindSource, Time: time.Now()})
		}
		return true
	}
	if !pullOK {
		return false
	}

	r.arrivalID++
	r.watermark.Store(ts)
	e := &Envelope[OUT]{Payload: payload, Timestamp: ts, Watermark: ts, Identifier: r.arrivalID}

	if r.recorder != nil {
		r.recorder(r.id, string(KindSource), "start", e)
	}

	var attrs []attribute.KeyValue
	if r.metricsOn {
		attrs = attrsWithRun(replicaAttributes(r.id, string(KindSource)))
		inCounter.Add(ctx, 1, attrs...)
	}
	if r.spanOn {
		_, span := startSpan(ctx, r.id)
		defer span.End()
	}

	r.emitter.Emit(e)

	if r.metricsOn {
		batchDuration.Record(ctx, time.Since(start).Nanoseconds(), attrs...)
		outCounter.Add(ctx, 1, attrs...)
	}
	if r.stats != nil {
		r.stats.recordServiceTime(time.Since(start))
		r.stats.recordOut(approxSize(payload))
	}
	if r.recorder != nil {
		r.recorder(r.id, string(KindSource), "end", e)
	}

	return true
}

func (r *sourceReplica[OUT]) setEmitter(e Emitter[OUT]) { r.emitter = e }

func (r *sourceReplica[OUT]) Done() <-chan struct{} { return r.done }

func (r *sourceReplica[OUT]) teardown() {
	r.emitter.Flush()
	end := &Envelope[OUT]{Punctuation: true, Watermark: WatermarkInfinite}
	r.emitter.Emit(end)
	r.emitter.Close()
	if r.closing != nil {
		r.closing()
	}
	close(r.done)
}
