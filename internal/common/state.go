package common

import "github.com/NamanBalaji/nativedl/internal/status"

// State is the native state of a task inside the built-in engine.
type State int32

const (
	StatePending State = iota
	StateActive
	StatePaused
	StateCompleted
	StateFailed
	StateQueued
	StateCancelled
)

var stateTable = status.Table[State]{
	StateActive:    status.StatusRunning,
	StatePaused:    status.StatusSuspended,
	StateCompleted: status.StatusCompleted,
}

// Canonical maps the engine state onto the caller-facing status.
func (s State) Canonical() status.Status {
	return stateTable.Lookup(s)
}

// IsTerminal reports whether the engine will not touch the task again on its own.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateQueued:
		return "queued"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}
