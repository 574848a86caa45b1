// Package events carries structured lifecycle events from the controller to
// whoever wants them: the log, the chat presence, tests.
package events

import (
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	WakeAttempt      Kind = "wake.attempt"
	WakeSucceeded    Kind = "wake.succeeded"
	WakeExhausted    Kind = "wake.exhausted"
	SuspendAttempt   Kind = "suspend.attempt"
	SuspendSucceeded Kind = "suspend.succeeded"
	SuspendFailed    Kind = "suspend.failed"
	Snapshot         Kind = "snapshot"
	MonitorCycle     Kind = "monitor.cycle"
	Intent           Kind = "intent"
)

// Event is one observation. Fields that do not apply to a kind are zero.
type Event struct {
	Kind Kind
	Time time.Time
	Host string

	Attempt     int
	MaxAttempts int

	// Container and Action describe an intent.
	Container string
	Action    string
	Outcome   string

	Reachable bool
	Running   []string

	Err error
}

// Sink receives events. Emit must not block for long; it is called from the
// controller's critical sections.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Fanout delivers each event to every sink in order.
type Fanout []Sink

func (f Fanout) Emit(e Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Emit stamps e and delivers it to s. A nil sink is allowed.
func Emit(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	s.Emit(e)
}

// Log writes events to a slog logger. Failures are logged at warn level,
// exhaustion at error level, everything else at debug or info.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Emit(e Event) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("event", string(e.Kind))
	if e.Host != "" {
		log = log.With("host", e.Host)
	}

	switch e.Kind {
	case WakeAttempt:
		log.Debug("sending wake packet", "attempt", e.Attempt, "max_attempts", e.MaxAttempts)
	case WakeSucceeded:
		log.Info("host is reachable", "attempts", e.Attempt)
	case WakeExhausted:
		log.Error("could not wake host within timeout", "attempts", e.MaxAttempts)
	case SuspendAttempt:
		if e.Err != nil {
			log.Info("failed to suspend host", "attempt", e.Attempt, "max_attempts", e.MaxAttempts, "err", e.Err)
			return
		}
		log.Debug("suspending host", "attempt", e.Attempt, "max_attempts", e.MaxAttempts)
	case SuspendSucceeded:
		log.Info("suspend command was executed")
	case SuspendFailed:
		log.Error("failed to suspend host", "attempts", e.MaxAttempts, "err", e.Err)
	case Snapshot:
		log.Debug("snapshot taken", "reachable", e.Reachable, "running", e.Running)
	case MonitorCycle:
		log.Info("monitor cycle", "reachable", e.Reachable, "running", e.Running, "outcome", e.Outcome)
	case Intent:
		log.Info("intent handled", "container", e.Container, "action", e.Action, "outcome", e.Outcome)
	default:
		log.Debug("event", "err", e.Err)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns recorded events of the given kind, or all when kind is "".
func (r *Recorder) Events(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if kind == "" || e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
