// Package status normalizes the task states of download engines into a
// single four-value vocabulary.
//
// Every engine reports its own native states. Each engine gets a Table that
// maps those states onto Status; a state missing from the table is Idle.
// Supporting a new engine means adding a table, not a Status value.
package status

import "fmt"

// Status is the canonical state of a download task as seen by callers.
type Status int32

const (
	StatusIdle Status = iota
	StatusRunning
	StatusSuspended
	StatusCompleted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Native is an engine-specific task state that knows its canonical form.
type Native interface {
	Canonical() Status
}

// Table maps the native states of one engine to canonical statuses.
type Table[S comparable] map[S]Status

// Lookup returns the canonical status for s. Unrecognized states, including
// failures, are Idle.
func (t Table[S]) Lookup(s S) Status {
	if st, ok := t[s]; ok {
		return st
	}

	return StatusIdle
}

// Of returns the canonical status of n, treating a nil state as Idle.
func Of(n Native) Status {
	if n == nil {
		return StatusIdle
	}

	return n.Canonical()
}
