package lifecycle

import "strings"

// RunState is the coarse run state of a container.
type RunState string

const (
	StateRunning RunState = "running"
	StateStopped RunState = "stopped"
	StateOther   RunState = "other"
)

// ParseRunState maps a container engine state string onto a RunState.
func ParseRunState(s string) RunState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return StateRunning
	case "exited", "created", "dead", "stopped":
		return StateStopped
	default:
		return StateOther
	}
}

// ContainerRecord is one container as reported by the engine at call time.
type ContainerRecord struct {
	Name  string
	State RunState
}

// Scope selects which containers Session.List returns.
type Scope uint8

const (
	ScopeRunning Scope = iota + 1
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeRunning:
		return "running"
	case ScopeAll:
		return "all"
	default:
		return "unknown"
	}
}

// SessionState is what one orchestration step observed. It is rebuilt on
// every call and never cached.
type SessionState struct {
	Reachable bool `json:"reachable"`
	// RunningCount counts running allow-listed containers only.
	RunningCount int      `json:"running_count"`
	Running      []string `json:"running"`
	// Available lists every allow-listed container, running or not.
	Available []string `json:"available"`
}

// Idle reports whether the host is up with no allow-listed container running.
func (s SessionState) Idle() bool {
	return s.Reachable && s.RunningCount == 0
}

type ResultKind string

const (
	ResultStarting       ResultKind = "starting"
	ResultStopping       ResultKind = "stopping"
	ResultAlreadyRunning ResultKind = "already_running"
	ResultCapacity       ResultKind = "capacity"
	ResultUnreachable    ResultKind = "unreachable"
	ResultNotFound       ResultKind = "not_found"
	ResultNotAllowed     ResultKind = "not_allowed"
	ResultFailed         ResultKind = "failed"
)

// Result is the answer to a start or stop intent. Message is safe to show
// to the person who sent the intent.
type Result struct {
	Kind    ResultKind `json:"kind"`
	Message string     `json:"message"`
	// Running is the allow-listed running count behind a capacity rejection.
	Running int `json:"running,omitempty"`
}

// OK reports whether the intent was accepted.
func (r Result) OK() bool {
	switch r.Kind {
	case ResultStarting, ResultStopping, ResultAlreadyRunning:
		return true
	default:
		return false
	}
}
