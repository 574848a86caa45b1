// Package wake brings a sleeping host online with link-layer wake packets.
package wake

import (
	"context"
	"log/slog"
	"net"
	"time"

	"dozer/internal/events"
)

// DefaultInterval is the pause between a wake packet and the next probe.
// Wireless wake can be slow, so this is generous.
const DefaultInterval = 2 * time.Second

// Prober reports whether the host answers.
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Sender emits one wake packet for the given hardware address.
// Production: *wol.Sender
// Testing: fake.PacketSender
type Sender interface {
	Send(ctx context.Context, mac net.HardwareAddr) error
}

// Driver wakes one host. It never returns an error: the boolean result is
// the only signal, and every attempt is reported to the sink.
type Driver struct {
	host     string
	mac      net.HardwareAddr
	prober   Prober
	sender   Sender
	interval time.Duration
	sink     events.Sink
	sleep    func(ctx context.Context, d time.Duration) error
	log      *slog.Logger
}

type Option func(*Driver)

func WithInterval(d time.Duration) Option {
	return func(w *Driver) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithSink(s events.Sink) Option {
	return func(w *Driver) { w.sink = s }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Driver) { w.sleep = fn }
}

func NewDriver(host string, mac net.HardwareAddr, prober Prober, sender Sender, opts ...Option) *Driver {
	d := &Driver{
		host:     host,
		mac:      mac,
		prober:   prober,
		sender:   sender,
		interval: DefaultInterval,
		sink:     events.Discard,
		sleep:    sleepContext,
		log:      slog.With("component", "wake", "host", host, "mac", mac.String()),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Wake returns true at once, without sending anything, if the host already
// answers. Otherwise it sends up to maxAttempts packets, probing after each
// interval, and returns true on the first answer.
//
// The context only cuts the loop short on shutdown; worst-case latency is
// maxAttempts × (interval + probe timeout).
func (d *Driver) Wake(ctx context.Context, maxAttempts int) bool {
	if d.prober.Probe(ctx, d.host) {
		return true
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		events.Emit(d.sink, events.Event{
			Kind:        events.WakeAttempt,
			Host:        d.host,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
		})
		if err := d.sender.Send(ctx, d.mac); err != nil {
			d.log.Warn("failed to send wake packet", "attempt", attempt, "err", err)
		}
		if err := d.sleep(ctx, d.interval); err != nil {
			d.log.Debug("wake interrupted", "attempt", attempt, "err", err)
			return false
		}
		if d.prober.Probe(ctx, d.host) {
			events.Emit(d.sink, events.Event{
				Kind:        events.WakeSucceeded,
				Host:        d.host,
				Attempt:     attempt,
				MaxAttempts: maxAttempts,
			})
			return true
		}
	}

	events.Emit(d.sink, events.Event{
		Kind:        events.WakeExhausted,
		Host:        d.host,
		Attempt:     maxAttempts,
		MaxAttempts: maxAttempts,
	})
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
