package wflow

import "github.com/karlseguin/typed"

// FieldKey builds a KeyExtractor for map-shaped payloads — the common
// case for sources fed by graphconfig's declarative loader or scripting's
// yaegi functors, where a payload arrives as map[string]any rather than a
// typed struct. It reads field by dotted path using karlseguin/typed, the
// same typed-map-access dependency the teacher project pulls in for
// generic record field access.
func FieldKey[T any](path string) KeyExtractor[T] {
	return func(payload T) any {
		m, ok := any(payload).(map[string]any)
		if !ok {
			return payload
		}
		return typed.New(m).StringOr(path, "")
	}
}

// FieldTimestamp reads an event-time field out of a map-shaped payload as
// a uint64 microsecond timestamp, for sources that don't carry timestamps
// natively (spec §4.1 "assigns Timestamp at ingest" for Source operators
// reading from a schemaless connector).
func FieldTimestamp[T any](path string) func(T) uint64 {
	return func(payload T) uint64 {
		m, ok := any(payload).(map[string]any)
		if !ok {
			return 0
		}
		return uint64(typed.New(m).Int64Or(path, 0))
	}
}
