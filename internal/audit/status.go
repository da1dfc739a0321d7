package audit

import "fmt"

// Status represents the lifecycle state of an audit.
type Status string

// Audit status values persisted in the repository.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// ParseStatus converts a stored value back into a Status.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return s, nil
	default:
		return "", fmt.Errorf("unknown audit status %q", raw)
	}
}

// Terminal reports whether no further transition may follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	case StatusPending, StatusRunning:
		return false
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}
