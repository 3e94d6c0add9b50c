package wflow

// Pusher is a Sink operator's connector-side write function (spec §4.1
// "Sink"). Connectors in sinks/bigquery and sinks/cassandra implement
// this shape.
type Pusher[IN any] func(payload IN) error

// newSinkReplica builds the replica body for a Sink operator: call push,
// and on error panic with it, so the replica's recover decorator reports it
// to onError as a UserError and then re-panics — a failed push is fatal to
// the process, like any other user-code failure.
func newSinkReplica[IN any](id string, index int, push Pusher[IN], opt *replicaOptions) *replica[IN, IN] {
	r := &replica[IN, IN]{
		id:         id,
		vertexType: KindSink,
		index:      index,
		metricsOn:  opt.metrics,
		spanOn:     opt.span,
		recorder:   opt.recorder,
		closing:    opt.closing,
		onError:    opt.onError,
		done:       make(chan struct{}),
	}

	r.body = func(e *Envelope[IN]) {
		if err := push(e.Payload); err != nil {
			panic(err)
		}
	}

	return r
}

// replicaOptions is the subset of Option[T] the replica constructors in
// this file need, stripped of its type parameter so Source/Sink
// constructors (which only have one side of the payload type) can share
// it without dragging Option[T]'s KeyBy/window fields along.
type replicaOptions struct {
	metrics  bool
	span     bool
	recorder func(vertexID, vertexType string, phase string, e any)
	closing  func()
	onError  func(*Error)
}

func replicaOptionsFrom[T any](o *Option[T]) *replicaOptions {
	ro := &replicaOptions{
		metrics: true,
		span:    true,
		closing: o.Closing,
		onError: o.ErrorHandler,
	}
	if o.Recorder != nil {
		userRecorder := o.Recorder
		ro.recorder = func(vertexID, vertexType, phase string, e any) {
			userRecorder(vertexID, vertexType, e)
		}
	}
	if o.Metrics != nil {
		ro.metrics = *o.Metrics
	}
	if o.Span != nil {
		ro.span = *o.Span
	}
	return ro
}
