// Package types provides common type definitions used throughout fwatch.
// This package contains shared types to avoid circular dependencies between packages.
package types

import (
	"fmt"
	"time"
)

// AliasKind selects how the display label of a tracked file is derived.
type AliasKind int

const (
	// AliasBasename labels a file with its final path component.
	AliasBasename AliasKind = iota
	// AliasScript asks an external program for the label.
	AliasScript
)

// String returns the string representation of the AliasKind
func (k AliasKind) String() string {
	switch k {
	case AliasBasename:
		return "basename"
	case AliasScript:
		return "script"
	default:
		return "unknown"
	}
}

// ActionKind selects what the daemon does when a tracked file changes.
type ActionKind int

const (
	// ActionSave stores a snapshot of the new content.
	ActionSave ActionKind = iota
	// ActionScript runs an external program.
	ActionScript
)

// String returns the string representation of the ActionKind
func (k ActionKind) String() string {
	switch k {
	case ActionSave:
		return "save"
	case ActionScript:
		return "script"
	default:
		return "unknown"
	}
}

// AliasPolicy is an AliasKind plus the resolver program for AliasScript.
type AliasPolicy struct {
	Kind   AliasKind
	Script string
}

// String renders the policy for replies and logs.
func (p AliasPolicy) String() string {
	if p.Kind == AliasScript {
		return fmt.Sprintf("script:%s", p.Script)
	}
	return p.Kind.String()
}

// ActionPolicy is an ActionKind plus the program for ActionScript.
type ActionPolicy struct {
	Kind   ActionKind
	Script string
}

// String renders the policy for replies and logs.
func (p ActionPolicy) String() string {
	if p.Kind == ActionScript {
		return fmt.Sprintf("script:%s", p.Script)
	}
	return p.Kind.String()
}

// TrackedFile is one registry entry. It is replaced as a whole on re-track
// and never mutated in place.
type TrackedFile struct {
	// Path is absolute and cleaned.
	Path string
	// Alias decides the label passed to action scripts
	Alias AliasPolicy
	// Action decides what happens on change
	Action ActionPolicy
	// TrackedAt is when the entry was last (re)registered
	TrackedAt time.Time
	// Active is false once the path has been untracked; its history stays.
	Active bool
}

// Snapshot is an immutable captured copy of a tracked file's content.
type Snapshot struct {
	// ID orders snapshots in capture order
	ID int64
	// Path is the tracked file the snapshot belongs to
	Path string
	// Hash is the hex SHA-256 of Payload
	Hash string
	// Size is len(Payload)
	Size int64
	// CapturedAt is when the snapshot was appended
	CapturedAt time.Time
	// Payload is nil when only metadata was loaded
	Payload []byte
}

// Summary describes the history of one registry entry for listings.
type Summary struct {
	Path   string
	Active bool
	Count  int
	Latest *Snapshot
}

// EventKind classifies a change to a tracked file.
type EventKind int

const (
	EventModified EventKind = iota
	EventCreated
	EventDeleted
	EventRenamed
)

// String returns the string representation of the EventKind. The value is
// also what scripts receive as their first argument.
func (e EventKind) String() string {
	switch e {
	case EventModified:
		return "modified"
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Gone reports whether the file no longer exists after the event.
func (e EventKind) Gone() bool {
	return e == EventDeleted || e == EventRenamed
}

// Event is one debounced change of a tracked file.
type Event struct {
	Kind EventKind
	Path string
	Time time.Time
}
