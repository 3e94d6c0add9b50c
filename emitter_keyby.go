package wflow

// KeyExtractor pulls a routing key out of a payload. Equal keys must
// compare equal through hashKey for KeyBy's stability guarantee to hold.
type KeyExtractor[T any] func(T) any

// keyByEmitter routes by hash(key) mod numDestinations — a stable routing
// table for the life of the graph (spec §3 "Routing table").
type keyByEmitter[T any] struct {
	base[T]
	keyOf KeyExtractor[T]
}

func newKeyByEmitter[T any](vertexID string, numDestinations, bufferSize, batchSize int, keyOf KeyExtractor[T], currentWM func() uint64) *keyByEmitter[T] {
	b := newBase[T](vertexID, numDestinations, bufferSize, batchSize)
	b.currentWM = currentWM
	return &keyByEmitter[T]{base: b, keyOf: keyOf}
}

func (k *keyByEmitter[T]) Emit(e *Envelope[T]) {
	if e.Punctuation {
		// A punctuation with no key advances every destination's watermark,
		// since it is not associated with any single key class.
		for i := range k.destinations {
			out := e
			if i != len(k.destinations)-1 {
				out = k.free.get()
				*out = *e
			}
			k.destinations[i].send(out, k.batchSize, k.vertexID)
		}
		k.maybeGeneratePunctuations()
		return
	}

	dest := int(hashKey(k.keyOf(e.Payload)) % uint64(len(k.destinations)))
	k.destinations[dest].send(e, k.batchSize, k.vertexID)
	k.maybeGeneratePunctuations()
}

func (k *keyByEmitter[T]) Kind() Kind { return KeyBy }

// Destination exposes the routing table decision for a key without
// emitting, used by replicas that need to know which parallel sibling
// owns a key (e.g. Parallel_Windows ownership checks downstream of a
// Broadcast rather than a KeyBy, but the hash function is shared).
func (k *keyByEmitter[T]) Destination(key any, numDestinations int) int {
	return int(hashKey(key) % uint64(numDestinations))
}
