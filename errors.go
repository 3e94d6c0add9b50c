package wflow

import "fmt"

// ConfigError is the value graph-assembly functions panic with when an operator
// or graph is misconfigured (parallelism 0, win_len 0, lateness on a CB
// window, a non-divisor quantum, KeyBy required but absent at
// parallelism > 1, ...). Construction always fails fast and the graph is
// never run.
type ConfigError struct {
	Vertex string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("wflow: configuration error in %q: %s", e.Vertex, e.Reason)
}

func configErrorf(vertex, format string, args ...any) *ConfigError {
	return &ConfigError{Vertex: vertex, Reason: fmt.Sprintf(format, args...)}
}

// InvariantViolation marks a bug in the engine itself, not in user input:
// a watermark regression on a channel, emitter state inconsistency, or a
// recycling leak observed at destruction. These are never recovered —
// they panic and the process is expected to die, per spec §7's "fail fast
// (assert + abort)" taxonomy. The replica's own recover-decorator (§4.1,
// "user-code failures") only ever reports panics raised from *user*
// functors before re-panicking with them; an InvariantViolation panic is
// re-panicked immediately, unreported, by every recover site — see
// (*replica[IN, OUT]).recover in replica.go.
type InvariantViolation struct {
	Vertex string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("wflow: invariant violation in %q: %s", e.Vertex, e.Reason)
}

func panicInvariant(vertex, format string, args ...any) {
	panic(&InvariantViolation{Vertex: vertex, Reason: fmt.Sprintf(format, args...)})
}

// UserError wraps a panic recovered from user-supplied operator logic. It
// is delivered to the operator's error handler (installed via the
// replica's recover decorator) and is fatal: there is no retry.
type UserError struct {
	VertexID   string
	VertexType string
	Err        error
}

func (e *UserError) Error() string {
	return fmt.Sprintf("wflow: vertex %q (%s): %v", e.VertexID, e.VertexType, e.Err)
}

func (e *UserError) Unwrap() error { return e.Err }
