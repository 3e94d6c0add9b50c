package wflow

// MapFunc transforms one payload into another (spec §4.1 "Map"). A
// non-nil error is treated as a user-code failure and goes through the
// replica's recover decorator exactly like a panic would.
type MapFunc[IN any, OUT any] func(IN) (OUT, error)

// FilterFunc reports whether a payload should continue downstream (spec
// §4.1 "Filter"); dropped envelopes are neither emitted nor forwarded.
type FilterFunc[T any] func(T) (bool, error)

// newMapReplica builds the replica body for a Map operator: apply fn to
// every payload, carry the envelope's Timestamp/Identifier across
// unchanged, stamp the outgoing envelope with the replica's current
// minimum input watermark (spec §4.1 step 3 — correct across a Merge's
// multiple input channels, not just this one envelope's own watermark),
// and emit the result.
func newMapReplica[IN any, OUT any](id string, index int, fn MapFunc[IN, OUT], opt *Option[IN]) *replica[IN, OUT] {
	ro := replicaOptionsFrom(opt)
	r := &replica[IN, OUT]{
		id:         id,
		vertexType: KindMap,
		index:      index,
		metricsOn:  ro.metrics,
		spanOn:     ro.span,
		recorder:   ro.recorder,
		closing:    ro.closing,
		onError:    ro.onError,
		done:       make(chan struct{}),
	}

	r.body = func(e *Envelope[IN]) {
		out, err := fn(e.Payload)
		if err != nil {
			panic(err)
		}
		r.emitter.Emit(&Envelope[OUT]{
			Payload:    out,
			Timestamp:  e.Timestamp,
			Watermark:  r.currentWatermark(),
			Identifier: e.Identifier,
		})
	}

	return r
}

// newFilterReplica builds the replica body for a Filter operator: the
// payload type is unchanged, so IN == OUT.
func newFilterReplica[T any](id string, index int, fn FilterFunc[T], opt *Option[T]) *replica[T, T] {
	ro := replicaOptionsFrom(opt)
	r := &replica[T, T]{
		id:         id,
		vertexType: KindFilter,
		index:      index,
		metricsOn:  ro.metrics,
		spanOn:     ro.span,
		recorder:   ro.recorder,
		closing:    ro.closing,
		onError:    ro.onError,
		done:       make(chan struct{}),
	}

	r.body = func(e *Envelope[T]) {
		keep, err := fn(e.Payload)
		if err != nil {
			panic(err)
		}
		if !keep {
			return
		}
		r.emitter.Emit(&Envelope[T]{
			Payload:    e.Payload,
			Timestamp:  e.Timestamp,
			Watermark:  r.currentWatermark(),
			Identifier: e.Identifier,
		})
	}

	return r
}
