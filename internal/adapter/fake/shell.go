package fake

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dozer/internal/suspend"
)

var (
	_ suspend.Dialer = (*ShellDialer)(nil)
	_ suspend.Shell  = (*Shell)(nil)
	_ backoff.Timer  = (*InstantTimer)(nil)
)

// ShellDialer hands out Shells and keeps every one it dialed so tests can
// check how often each was closed.
type ShellDialer struct {
	CallRecorder

	DialErr func(ctx context.Context) error
	RunErr  func(ctx context.Context, command string) error

	mu     sync.Mutex
	shells []*Shell
}

func (d *ShellDialer) Dial(ctx context.Context) (suspend.Shell, error) {
	d.record("Dial")
	if d.DialErr != nil {
		if err := d.DialErr(ctx); err != nil {
			return nil, err
		}
	}
	s := &Shell{dialer: d}
	d.mu.Lock()
	d.shells = append(d.shells, s)
	d.mu.Unlock()
	return s, nil
}

// Shells returns every shell dialed so far, in order.
func (d *ShellDialer) Shells() []*Shell {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Shell(nil), d.shells...)
}

type Shell struct {
	dialer *ShellDialer

	mu     sync.Mutex
	closes int
}

func (s *Shell) Run(ctx context.Context, command string) error {
	s.dialer.record("Run", command)
	if s.dialer.RunErr != nil {
		return s.dialer.RunErr(ctx, command)
	}
	return nil
}

func (s *Shell) Close() error {
	s.dialer.record("Close")
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

// Closes is how many times Close was called on this shell.
func (s *Shell) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// InstantTimer fires as soon as it is started and records each requested
// duration.
type InstantTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *InstantTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	select {
	case t.c <- time.Time{}:
	default:
	}
}

func (t *InstantTimer) Stop() {}

func (t *InstantTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		t.c = make(chan time.Time, 1)
	}
	return t.c
}

// Waits returns the durations the timer was started with.
func (t *InstantTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}
