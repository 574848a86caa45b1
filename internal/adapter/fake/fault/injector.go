// Package fault injects failures into fake adapters at named points.
package fault

import (
	"fmt"
	"sync"
)

// Hook inspects the arguments of a call and may fail it.
type Hook func(args ...any) error

type point struct {
	queued []error
	sticky error
	hook   Hook
}

// Injector holds the configured faults, keyed by point name such as
// "session.start". The zero value is not usable; call NewInjector.
type Injector struct {
	mu     sync.Mutex
	points map[string]*point
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*point)}
}

// FailNext queues err for the next evaluation of name. Queued errors are
// consumed in order.
func (i *Injector) FailNext(name string, err error) {
	if err == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	p := i.at(name)
	p.queued = append(p.queued, err)
}

// FailAlways fails every evaluation of name until cleared.
func (i *Injector) FailAlways(name string, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.at(name).sticky = err
}

func (i *Injector) SetHook(name string, hook Hook) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.at(name).hook = hook
}

func (i *Injector) Clear(name string) {
	i.mu.Lock()
	delete(i.points, name)
	i.mu.Unlock()
}

func (i *Injector) Reset() {
	i.mu.Lock()
	i.points = make(map[string]*point)
	i.mu.Unlock()
}

// Eval reports the fault for one call at name, if any.
// Precedence: hook, then queued, then always.
func (i *Injector) Eval(name string, args ...any) error {
	if i == nil {
		return nil
	}

	i.mu.Lock()
	p := i.points[name]
	if p == nil {
		i.mu.Unlock()
		return nil
	}
	hook := p.hook
	var next error
	if len(p.queued) > 0 {
		next = p.queued[0]
		p.queued = p.queued[1:]
	}
	sticky := p.sticky
	i.mu.Unlock()

	if hook != nil {
		if err := hook(args...); err != nil {
			return fmt.Errorf("fault %s: %w", name, err)
		}
	}
	if next != nil {
		return fmt.Errorf("fault %s: %w", name, next)
	}
	if sticky != nil {
		return fmt.Errorf("fault %s: %w", name, sticky)
	}
	return nil
}

func (i *Injector) at(name string) *point {
	p, ok := i.points[name]
	if !ok {
		p = &point{}
		i.points[name] = p
	}
	return p
}
