package fake

import (
	"context"
	"net"
	"sync"

	"dozer/internal/lifecycle"
	"dozer/internal/wake"
)

var (
	_ lifecycle.Prober    = (*Prober)(nil)
	_ wake.Prober         = (*Prober)(nil)
	_ lifecycle.Waker     = (*Waker)(nil)
	_ lifecycle.Suspender = (*Suspender)(nil)
	_ wake.Sender         = (*PacketSender)(nil)
)

// Prober answers probes from a script, then from Reachable once the script
// is used up.
type Prober struct {
	CallRecorder

	mu        sync.Mutex
	reachable bool
	script    []bool
}

func NewProber(reachable bool) *Prober {
	return &Prober{reachable: reachable}
}

func (p *Prober) Probe(_ context.Context, address string) bool {
	p.record("Probe", address)

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.script) > 0 {
		next := p.script[0]
		p.script = p.script[1:]
		return next
	}
	return p.reachable
}

func (p *Prober) SetReachable(v bool) {
	p.mu.Lock()
	p.reachable = v
	p.mu.Unlock()
}

// Script queues answers that take precedence over the reachable flag.
func (p *Prober) Script(answers ...bool) {
	p.mu.Lock()
	p.script = append(p.script, answers...)
	p.mu.Unlock()
}

// Waker reports a canned wake result. When Prober is set, a successful wake
// also makes it reachable.
type Waker struct {
	CallRecorder
	Result bool
	Prober *Prober
}

func (w *Waker) Wake(_ context.Context, maxAttempts int) bool {
	w.record("Wake", maxAttempts)
	if w.Result && w.Prober != nil {
		w.Prober.SetReachable(true)
	}
	return w.Result
}

// Suspender records suspend requests. When Prober is set, a successful
// suspend makes it unreachable.
type Suspender struct {
	CallRecorder
	Prober *Prober

	SuspendErr func(ctx context.Context) error
}

func (s *Suspender) Suspend(ctx context.Context) error {
	s.record("Suspend")
	if s.SuspendErr != nil {
		if err := s.SuspendErr(ctx); err != nil {
			return err
		}
	}
	if s.Prober != nil {
		s.Prober.SetReachable(false)
	}
	return nil
}

// PacketSender records wake packets. WakeAfter, when positive, makes Prober
// reachable once that many packets were sent.
type PacketSender struct {
	CallRecorder
	Prober    *Prober
	WakeAfter int

	SendErr func(mac net.HardwareAddr) error

	mu   sync.Mutex
	sent int
}

func (s *PacketSender) Send(_ context.Context, mac net.HardwareAddr) error {
	s.record("Send", mac.String())
	if s.SendErr != nil {
		if err := s.SendErr(mac); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.sent++
	wake := s.WakeAfter > 0 && s.sent >= s.WakeAfter
	s.mu.Unlock()

	if wake && s.Prober != nil {
		s.Prober.SetReachable(true)
	}
	return nil
}
