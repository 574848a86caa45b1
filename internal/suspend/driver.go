// Package suspend puts the host to sleep over a remote shell.
package suspend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"dozer/internal/events"
	"dozer/internal/lifecycle"
)

const (
	DefaultCommand  = "systemctl suspend"
	DefaultInterval = 2 * time.Second
)

// Shell is an authenticated remote shell. Close is called exactly once per
// Shell returned by Dial.
type Shell interface {
	Run(ctx context.Context, command string) error
	Close() error
}

// Dialer opens a remote shell on the host.
// Production: *sshexec.Dialer
// Testing: fake.ShellDialer
type Dialer interface {
	Dial(ctx context.Context) (Shell, error)
}

var _ lifecycle.Suspender = (*Driver)(nil)

// Driver issues the suspend command, retrying the whole dial-and-run
// sequence on a fixed interval. Worst-case latency is
// attempts × (dial timeout + command timeout + interval).
type Driver struct {
	host     string
	dialer   Dialer
	command  string
	attempts int
	interval time.Duration
	timer    backoff.Timer
	sink     events.Sink
	log      *slog.Logger
}

type Option func(*Driver)

func WithCommand(cmd string) Option {
	return func(d *Driver) {
		if cmd != "" {
			d.command = cmd
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithTimer replaces the timer that paces retries.
func WithTimer(t backoff.Timer) Option {
	return func(d *Driver) { d.timer = t }
}

func WithSink(s events.Sink) Option {
	return func(d *Driver) { d.sink = s }
}

// NewDriver returns a driver making at most attempts tries. Callers derive
// attempts from the host's timeout budget as timeout-1; values below one are
// raised to one.
func NewDriver(host string, dialer Dialer, attempts int, opts ...Option) *Driver {
	if attempts < 1 {
		attempts = 1
	}
	d := &Driver{
		host:     host,
		dialer:   dialer,
		command:  DefaultCommand,
		attempts: attempts,
		interval: DefaultInterval,
		sink:     events.Discard,
		log:      slog.With("component", "suspend", "host", host),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Attempts() int { return d.attempts }

// Suspend returns nil once the command was accepted, or a
// *lifecycle.SuspendError after the last attempt failed.
func (d *Driver) Suspend(ctx context.Context) error {
	attempt := 0
	op := func() error {
		attempt++
		err := d.once(ctx)
		events.Emit(d.sink, events.Event{
			Kind:        events.SuspendAttempt,
			Host:        d.host,
			Attempt:     attempt,
			MaxAttempts: d.attempts,
			Err:         err,
		})
		return err
	}
	notify := func(err error, next time.Duration) {
		d.log.Debug("suspend attempt failed, retrying", "attempt", attempt, "next", next, "err", err)
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(d.interval)
	b = backoff.WithMaxRetries(b, uint64(d.attempts-1))
	b = backoff.WithContext(b, ctx)

	err := backoff.RetryNotifyWithTimer(op, b, notify, d.timer)
	if err != nil {
		serr := &lifecycle.SuspendError{Attempts: attempt, Last: err}
		events.Emit(d.sink, events.Event{
			Kind:        events.SuspendFailed,
			Host:        d.host,
			Attempt:     attempt,
			MaxAttempts: d.attempts,
			Err:         err,
		})
		return serr
	}

	events.Emit(d.sink, events.Event{
		Kind:        events.SuspendSucceeded,
		Host:        d.host,
		Attempt:     attempt,
		MaxAttempts: d.attempts,
	})
	return nil
}

// once dials a shell, runs the command, and closes the shell on every path.
func (d *Driver) once(ctx context.Context) error {
	shell, err := d.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.host, err)
	}
	defer func() {
		if cerr := shell.Close(); cerr != nil {
			d.log.Debug("closing shell failed", "err", cerr)
		}
	}()

	if err := shell.Run(ctx, d.command); err != nil {
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return fmt.Errorf("run %q on %s: %w", d.command, d.host, err)
	}
	return nil
}
