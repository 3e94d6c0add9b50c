package wflow

// broadcastEmitter sends every envelope to every destination. Logical
// ownership of the payload is duplicated by a gob-based deep copy for
// every destination past the first (spec §3 ownership: broadcast
// "installs a reference count equal to the number of destinations" —
// realized here as N-1 independent deep copies plus the original, since
// this runtime has no shared mutable payload state across goroutines to
// protect with an actual refcount).
type broadcastEmitter[T any] struct {
	base[T]
	onCopyError func(error)
}

func newBroadcastEmitter[T any](vertexID string, numDestinations, bufferSize, batchSize int, currentWM func() uint64, onCopyError func(error)) *broadcastEmitter[T] {
	b := newBase[T](vertexID, numDestinations, bufferSize, batchSize)
	b.currentWM = currentWM
	return &broadcastEmitter[T]{base: b, onCopyError: onCopyError}
}

func (br *broadcastEmitter[T]) Emit(e *Envelope[T]) {
	n := len(br.destinations)
	for i := 0; i < n; i++ {
		var out *Envelope[T]
		if i == n-1 {
			out = e
		} else {
			out = br.free.get()
			*out = *e
			if !e.Punctuation {
				payload, err := deepCopyPayload(e.Payload)
				if err != nil && br.onCopyError != nil {
					br.onCopyError(err)
				}
				out.Payload = payload
			}
		}
		br.destinations[i].send(out, br.batchSize, br.vertexID)
	}
	br.maybeGeneratePunctuations()
}

func (br *broadcastEmitter[T]) Kind() Kind { return Broadcast }
