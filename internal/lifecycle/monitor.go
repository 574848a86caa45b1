package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dozer/internal/events"
)

// DefaultPollInterval matches the cadence of the original status loop.
const DefaultPollInterval = time.Minute

type Outcome string

const (
	// OutcomeAsleep: the host did not answer the probe; nothing was done.
	OutcomeAsleep Outcome = "asleep"
	// OutcomeBusy: at least one allow-listed container is running.
	OutcomeBusy          Outcome = "busy"
	OutcomeSuspended     Outcome = "suspended"
	OutcomeSuspendFailed Outcome = "suspend_failed"
	OutcomeError         Outcome = "error"
	// OutcomeSkipped: another cycle was already running.
	OutcomeSkipped Outcome = "skipped"
)

// CycleReport is the result of one monitor cycle.
type CycleReport struct {
	State   SessionState
	Outcome Outcome
	Err     error
	At      time.Time
}

// IdleSuspender runs one check-idle-then-suspend cycle.
// Production: *Orchestrator
// Testing: fake implementations returning canned reports
type IdleSuspender interface {
	SuspendIfIdle(ctx context.Context) CycleReport
}

// Monitor polls the host on a fixed interval and suspends it when idle. It
// is the only path that puts the host to sleep. Cycles never overlap: a
// cycle requested while another is running is skipped.
type Monitor struct {
	target   IdleSuspender
	interval time.Duration
	sink     events.Sink
	host     string

	trigger chan struct{}
	busy    atomic.Bool

	mu   sync.RWMutex
	last *CycleReport
}

func NewMonitor(target IdleSuspender, host string, interval time.Duration, sink events.Sink) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Monitor{
		target:   target,
		interval: interval,
		sink:     sink,
		host:     host,
		trigger:  make(chan struct{}, 1),
	}
}

// Run cycles immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	log := slog.With("component", "monitor", "host", m.host)
	log.Info("starting monitor", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.Cycle(ctx)

		select {
		case <-ctx.Done():
			log.Info("monitor stopped")
			return nil
		case <-ticker.C:
		case <-m.trigger:
		}
	}
}

// Trigger asks Run for an extra cycle. It returns false if one is already
// pending.
func (m *Monitor) Trigger() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Cycle runs one check now, unless another cycle is in flight.
func (m *Monitor) Cycle(ctx context.Context) CycleReport {
	if !m.busy.CompareAndSwap(false, true) {
		return CycleReport{Outcome: OutcomeSkipped, At: time.Now()}
	}
	defer m.busy.Store(false)

	report := m.target.SuspendIfIdle(ctx)
	report.At = time.Now()

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()

	events.Emit(m.sink, events.Event{
		Kind:      events.MonitorCycle,
		Host:      m.host,
		Reachable: report.State.Reachable,
		Running:   append([]string(nil), report.State.Running...),
		Outcome:   string(report.Outcome),
		Err:       report.Err,
	})
	return report
}

// Last returns the most recent completed cycle.
func (m *Monitor) Last() (CycleReport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return CycleReport{}, false
	}
	return *m.last, true
}
