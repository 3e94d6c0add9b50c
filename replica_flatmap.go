package wflow

// Shipper is the push handle a FlatMapFunc uses to emit zero or more
// output envelopes per input tuple (spec §4.1 "FlatMap"). Ship may be
// called any number of times, including zero, during one FlatMapFunc
// invocation.
type Shipper[OUT any] struct {
	emit func(payload OUT, timestamp uint64)
}

// Ship emits one output payload with event-time timestamp ts, used as
// given. The output does not inherit the input envelope's timestamp, and a
// FlatMapFunc receives only the input payload, not its timestamp.
func (s Shipper[OUT]) Ship(payload OUT, timestamp uint64) {
	s.emit(payload, timestamp)
}

// FlatMapFunc expands one input payload into any number of output
// payloads via the supplied Shipper.
type FlatMapFunc[IN any, OUT any] func(payload IN, ship Shipper[OUT]) error

// newFlatMapReplica builds the replica body for a FlatMap operator. Every
// shipped envelope carries the replica's current minimum input watermark
// (spec §4.1 step 3 — the merged-input minimum across every upstream
// channel, not just the one the triggering tuple arrived on) and a derived
// Identifier so downstream count-based windows still see a stable
// per-tuple arrival order.
func newFlatMapReplica[IN any, OUT any](id string, index int, fn FlatMapFunc[IN, OUT], opt *Option[IN]) *replica[IN, OUT] {
	ro := replicaOptionsFrom(opt)
	r := &replica[IN, OUT]{
		id:         id,
		vertexType: KindFlatMap,
		index:      index,
		metricsOn:  ro.metrics,
		spanOn:     ro.span,
		recorder:   ro.recorder,
		closing:    ro.closing,
		onError:    ro.onError,
		done:       make(chan struct{}),
	}

	var shipped uint64

	r.body = func(e *Envelope[IN]) {
		ship := Shipper[OUT]{emit: func(payload OUT, ts uint64) {
			shipped++
			r.emitter.Emit(&Envelope[OUT]{
				Payload:    payload,
				Timestamp:  ts,
				Watermark:  r.currentWatermark(),
				Identifier: shipped,
			})
		}}
		if err := fn(e.Payload, ship); err != nil {
			panic(err)
		}
	}

	return r
}
