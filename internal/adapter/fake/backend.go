package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dozer/internal/adapter/fake/fault"
	"dozer/internal/lifecycle"
)

var (
	_ lifecycle.Opener  = (*Backend)(nil)
	_ lifecycle.Session = (*Session)(nil)
)

// Fault points evaluated by Backend and Session.
const (
	FaultOpen  = "backend.open"
	FaultList  = "session.list"
	FaultStart = "session.start"
	FaultStop  = "session.stop"
)

// Backend is an in-memory container engine. All sessions it opens share its
// container table and its call recorder.
type Backend struct {
	CallRecorder
	Faults *fault.Injector

	mu         sync.Mutex
	containers map[string]lifecycle.RunState
	opened     int
	closed     int
}

func NewBackend() *Backend {
	return &Backend{
		Faults:     fault.NewInjector(),
		containers: make(map[string]lifecycle.RunState),
	}
}

// Put adds or replaces a container.
func (b *Backend) Put(name string, state lifecycle.RunState) *Backend {
	b.mu.Lock()
	b.containers[name] = state
	b.mu.Unlock()
	return b
}

func (b *Backend) State(name string) (lifecycle.RunState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.containers[name]
	return s, ok
}

// OpenSessions is the number of sessions opened and not yet closed.
func (b *Backend) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened - b.closed
}

func (b *Backend) Open(_ context.Context) (lifecycle.Session, error) {
	b.record("Open")
	if err := b.Faults.Eval(FaultOpen); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.opened++
	b.mu.Unlock()
	return &Session{backend: b}, nil
}

// Session is one open connection to a Backend.
type Session struct {
	backend *Backend

	mu     sync.Mutex
	closed bool
}

func (s *Session) List(_ context.Context, scope lifecycle.Scope) ([]lifecycle.ContainerRecord, error) {
	b := s.backend
	b.record("List", scope)
	if err := b.Faults.Eval(FaultList, scope); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]lifecycle.ContainerRecord, 0, len(b.containers))
	for name, state := range b.containers {
		if scope == lifecycle.ScopeRunning && state != lifecycle.StateRunning {
			continue
		}
		out = append(out, lifecycle.ContainerRecord{Name: name, State: state})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Session) Start(_ context.Context, name string) error {
	return s.transition("Start", FaultStart, name, lifecycle.StateRunning)
}

func (s *Session) Stop(_ context.Context, name string) error {
	return s.transition("Stop", FaultStop, name, lifecycle.StateStopped)
}

func (s *Session) transition(method, point, name string, to lifecycle.RunState) error {
	b := s.backend
	b.record(method, name)
	if err := b.Faults.Eval(point, name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.containers[name]; !ok {
		return fmt.Errorf("no such container %q: %w", name, lifecycle.ErrNotFound)
	}
	b.containers[name] = to
	return nil
}

func (s *Session) Close() error {
	s.backend.record("Close")

	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.mu.Unlock()

	if !already {
		s.backend.mu.Lock()
		s.backend.closed++
		s.backend.mu.Unlock()
	}
	return nil
}
