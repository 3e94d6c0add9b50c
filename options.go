package wflow

import "time"

// Option holds per-operator settings, built with the With* fluent methods
// below (spec §6's builder-option table). For the Metrics and Span pointer
// fields, nil means the default (enabled) and non-nil overrides it.
type Option[T any] struct {
	Name string

	Parallelism int

	KeyBy KeyExtractor[T]

	OutputBatchSize int

	// Windowing.
	WindowKind  windowKind // none, cb, or tb
	WinLen      uint64
	SlideLen    uint64
	Quantum     uint64
	Lateness    uint64
	hasLateness bool

	Closing func()

	Metrics *bool
	Span    *bool

	BufferSize int

	Recorder func(vertexID, vertexType string, e any)
	ErrorHandler func(*Error)
}

// NewOption builds an Option with the same defaults defaultOption uses
// internally — the entry point callers outside this package (graphconfig,
// cmd) build on with the With* fluent methods.
func NewOption[T any]() *Option[T] {
	return defaultOption[T]()
}

func defaultOption[T any]() *Option[T] {
	return &Option[T]{
		Parallelism:     1,
		OutputBatchSize: 0,
		BufferSize:      0,
		Metrics:         boolP(true),
		Span:            boolP(true),
	}
}

func boolP(v bool) *bool { return &v }

// merge overlays non-zero/non-nil fields of other onto a copy of o,
// following the teacher project's Option.join/merge. Nothing in this
// package calls it; a Graph holds no default Option.
func (o *Option[T]) merge(other *Option[T]) *Option[T] {
	if other == nil {
		cp := *o
		return &cp
	}
	out := *o
	if other.Name != "" {
		out.Name = other.Name
	}
	if other.Parallelism != 0 {
		out.Parallelism = other.Parallelism
	}
	if other.KeyBy != nil {
		out.KeyBy = other.KeyBy
	}
	if other.OutputBatchSize != 0 {
		out.OutputBatchSize = other.OutputBatchSize
	}
	if other.WindowKind != windowNone {
		out.WindowKind = other.WindowKind
		out.WinLen = other.WinLen
		out.SlideLen = other.SlideLen
		out.Quantum = other.Quantum
		out.Lateness = other.Lateness
		out.hasLateness = other.hasLateness
	}
	if other.Closing != nil {
		out.Closing = other.Closing
	}
	if other.Metrics != nil {
		out.Metrics = other.Metrics
	}
	if other.Span != nil {
		out.Span = other.Span
	}
	if other.BufferSize != 0 {
		out.BufferSize = other.BufferSize
	}
	if other.Recorder != nil {
		out.Recorder = other.Recorder
	}
	if other.ErrorHandler != nil {
		out.ErrorHandler = other.ErrorHandler
	}
	return &out
}

// WithName sets a diagnostic label for the operator.
func (o *Option[T]) WithName(name string) *Option[T] {
	o.Name = name
	return o
}

// WithParallelism sets the number of worker replicas for this operator.
func (o *Option[T]) WithParallelism(n int) *Option[T] {
	o.Parallelism = n
	return o
}

// WithKeyBy switches input routing to KeyBy using fn(payload) -> key.
func (o *Option[T]) WithKeyBy(fn KeyExtractor[T]) *Option[T] {
	o.KeyBy = fn
	return o
}

// WithOutputBatchSize sets 0 for per-tuple emission, >0 to batch.
func (o *Option[T]) WithOutputBatchSize(b int) *Option[T] {
	o.OutputBatchSize = b
	return o
}

// WithCBWindows selects count-based window semantics.
func (o *Option[T]) WithCBWindows(winLen, slideLen uint64) *Option[T] {
	o.WindowKind = windowCB
	o.WinLen = winLen
	o.SlideLen = slideLen
	return o
}

// WithTBWindows selects time-based window semantics; len/slide/quantum are
// in microseconds. quantum is optional (0 means "unaligned"; only the GPU
// FFAT backend requires an explicit quantum, per spec §4.4).
func (o *Option[T]) WithTBWindows(winLen, slideLen uint64, quantum ...uint64) *Option[T] {
	o.WindowKind = windowTB
	o.WinLen = winLen
	o.SlideLen = slideLen
	if len(quantum) > 0 {
		o.Quantum = quantum[0]
	}
	return o
}

// WithLateness sets the TB firing delay; rejected for CB windows at
// graph-assembly time (spec §7 taxonomy class 1).
func (o *Option[T]) WithLateness(l uint64) *Option[T] {
	o.Lateness = l
	o.hasLateness = true
	return o
}

// WithClosing sets a per-replica teardown callback invoked after
// end-of-stream, once the replica has flushed its emitter.
func (o *Option[T]) WithClosing(fn func()) *Option[T] {
	o.Closing = fn
	return o
}

// WithBufferSize sets the channel buffer depth on edges leaving this
// operator.
func (o *Option[T]) WithBufferSize(n int) *Option[T] {
	o.BufferSize = n
	return o
}

// validate applies spec §7 taxonomy class 1 (configuration errors).
func (o *Option[T]) validate(name string) error {
	if o.Parallelism < 1 {
		return configErrorf(name, "parallelism must be >= 1, got %d", o.Parallelism)
	}
	if o.WindowKind != windowNone {
		if o.WinLen == 0 {
			return configErrorf(name, "window length must be > 0")
		}
		if o.SlideLen == 0 {
			return configErrorf(name, "window slide must be > 0")
		}
		if o.WindowKind == windowCB && o.hasLateness {
			return configErrorf(name, "lateness is not applicable to count-based windows")
		}
		if o.Quantum > 0 {
			if o.WinLen%o.Quantum != 0 || o.SlideLen%o.Quantum != 0 {
				return configErrorf(name, "window length and slide must be integer multiples of quantum %d", o.Quantum)
			}
		}
	}
	if o.KeyBy == nil && o.Parallelism > 1 && o.WindowKind != windowNone {
		return configErrorf(name, "keyed windows require with_key_by at parallelism > 1")
	}
	return nil
}

func (o *Option[T]) lateness() uint64 {
	if !o.hasLateness {
		return 0
	}
	return o.Lateness
}

// microsNow reports wall-clock time in microseconds. Nothing in this
// package calls it; window firing is driven by watermarks only.
func microsNow() uint64 {
	return uint64(time.Now().UnixMicro())
}
