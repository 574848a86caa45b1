package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"dozer/internal/allowlist"
	"dozer/internal/check"
	"dozer/internal/events"
	"dozer/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxActive bounds how many allow-listed containers may run at once.
const DefaultMaxActive = 1

const (
	msgStarting       = "starting server."
	msgStopping       = "stopping server."
	msgAlreadyRunning = "server is already running."
	msgUnreachable    = "could not wake main server. Please try again later"
	msgFailed         = "something went wrong. Please try again later"
)

// Config is the orchestrator's slice of the host configuration.
type Config struct {
	Host       string
	WakeBudget int
	MaxActive  int
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Prober    Prober
	Waker     Waker
	Opener    Opener
	Suspender Suspender

	Sink   events.Sink
	Tracer trace.Tracer
}

// Orchestrator is the per-host session state machine. Every operation that
// wakes, acts on, or suspends the host holds the host lock for its whole
// critical section, so an intent and a monitor cycle never interleave.
//
// All operations block on network I/O. HandleStart and Catalog may wake the
// host, which takes up to WakeBudget wake intervals plus the engine
// readiness wait; callers should not run them on a latency-sensitive path.
type Orchestrator struct {
	host      string
	maxActive int
	allow     *allowlist.List
	prober    Prober
	client    *Client
	suspender Suspender
	sink      events.Sink
	tracer    trace.Tracer
	log       *slog.Logger

	mu sync.Mutex // host lock

	phaseMu sync.RWMutex
	phase   Phase
}

func NewOrchestrator(cfg Config, allow *allowlist.List, deps Deps) *Orchestrator {
	if allow == nil {
		allow = allowlist.New()
	}
	maxActive := cfg.MaxActive
	if maxActive <= 0 {
		maxActive = DefaultMaxActive
	}
	sink := deps.Sink
	if sink == nil {
		sink = events.Discard
	}

	o := &Orchestrator{
		host:      cfg.Host,
		maxActive: maxActive,
		allow:     allow,
		prober:    deps.Prober,
		suspender: deps.Suspender,
		sink:      sink,
		tracer:    deps.Tracer,
		log:       slog.With("component", "orchestrator", "host", cfg.Host),
	}
	o.client = &Client{
		Host:       cfg.Host,
		WakeBudget: cfg.WakeBudget,
		Prober:     deps.Prober,
		Waker:      deps.Waker,
		Opener:     deps.Opener,
		OnWaking:   func() {
			// The probe just failed, so whatever was observed before is stale.
			o.setPhase(PhaseAsleep)
			o.setPhase(PhaseWaking)
		},
	}
	return o
}

// AllowList returns the list the orchestrator filters with.
func (o *Orchestrator) AllowList() *allowlist.List {
	return o.allow
}

// Phase returns the last observed host phase.
func (o *Orchestrator) Phase() Phase {
	o.phaseMu.RLock()
	defer o.phaseMu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(to Phase) {
	o.phaseMu.Lock()
	defer o.phaseMu.Unlock()

	next, ok := o.phase.Transition(to)
	if !ok {
		o.log.Debug("ignoring phase transition", "from", o.phase, "to", to)
		return
	}
	if next != o.phase {
		o.log.Debug("phase changed", "from", o.phase, "to", next)
	}
	o.phase = next
}

// HandleStart starts the named container, waking the host first if needed.
// Reachability is established before capacity is checked, and capacity
// before anything is started.
func (o *Orchestrator) HandleStart(ctx context.Context, name string) Result {
	op := telemetry.Begin(ctx, o.tracer, "orchestrator.start",
		attribute.String(telemetry.HostKey, o.host),
		attribute.String(telemetry.ContainerKey, name))
	res := o.handleStart(op, name)
	op.SetOutcome(string(res.Kind))
	op.End(nil)
	o.emitIntent("start", name, res)
	return res
}

func (o *Orchestrator) handleStart(op *telemetry.Operation, name string) Result {
	if !o.allow.Permits(name) {
		return notAllowed(name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	sess, res, ok := o.ensureAwake(op)
	if !ok {
		return res
	}
	defer sess.Close()

	var (
		running        int
		alreadyRunning bool
	)
	err := op.RunStep("capacity", func(ctx context.Context) error {
		records, err := sess.List(ctx, ScopeAll)
		if err != nil {
			return err
		}
		found := false
		for _, r := range records {
			if r.Name == name {
				found = true
				alreadyRunning = r.State == StateRunning
			}
			if r.State == StateRunning && o.allow.Permits(r.Name) {
				running++
			}
		}
		o.setPhase(phaseFor(running))
		if !found {
			return fmt.Errorf("container %q: %w", name, ErrNotFound)
		}
		if alreadyRunning {
			return nil
		}
		if running >= o.maxActive {
			return &CapacityError{Running: running, Limit: o.maxActive}
		}
		return nil
	})

	var capErr *CapacityError
	switch {
	case errors.As(err, &capErr):
		o.log.Info("refusing start, capacity reached", "container", name, "running", capErr.Running, "limit", capErr.Limit)
		return capacity(capErr.Running)
	case errors.Is(err, ErrNotFound):
		return notFound(name)
	case err != nil:
		o.log.Warn("failed to list containers", "container", name, "err", err)
		return failed()
	case alreadyRunning:
		return Result{Kind: ResultAlreadyRunning, Message: msgAlreadyRunning}
	}

	check.That(running < o.maxActive, "starting %s with %d of %d running", name, running, o.maxActive)
	if err := op.RunStep("start", func(ctx context.Context) error {
		return sess.Start(ctx, name)
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(name)
		}
		o.log.Warn("failed to start container", "container", name, "err", err)
		return failed()
	}
	o.setPhase(PhaseAwakeBusy)
	return Result{Kind: ResultStarting, Message: msgStarting}
}

// HandleStop stops the named container, waking the host first if needed.
// Stopping never suspends the host; the monitor does that on its next cycle.
func (o *Orchestrator) HandleStop(ctx context.Context, name string) Result {
	op := telemetry.Begin(ctx, o.tracer, "orchestrator.stop",
		attribute.String(telemetry.HostKey, o.host),
		attribute.String(telemetry.ContainerKey, name))
	res := o.handleStop(op, name)
	op.SetOutcome(string(res.Kind))
	op.End(nil)
	o.emitIntent("stop", name, res)
	return res
}

func (o *Orchestrator) handleStop(op *telemetry.Operation, name string) Result {
	if !o.allow.Permits(name) {
		return notAllowed(name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	sess, res, ok := o.ensureAwake(op)
	if !ok {
		return res
	}
	defer sess.Close()

	if err := op.RunStep("stop", func(ctx context.Context) error {
		return sess.Stop(ctx, name)
	}); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(name)
		}
		o.log.Warn("failed to stop container", "container", name, "err", err)
		return failed()
	}
	return Result{Kind: ResultStopping, Message: msgStopping}
}

// ensureAwake connects to the engine, waking the host if necessary. On
// failure it returns the Unreachable result and ok=false.
func (o *Orchestrator) ensureAwake(op *telemetry.Operation) (Session, Result, bool) {
	var sess Session
	err := op.RunStep("ensure-awake", func(ctx context.Context) error {
		s, err := o.client.Connect(ctx)
		sess = s
		return err
	})
	if err != nil {
		o.log.Warn("could not reach host", "err", err)
		if o.Phase() == PhaseWaking {
			o.setPhase(PhaseAsleep)
		}
		return nil, Result{Kind: ResultUnreachable, Message: msgUnreachable}, false
	}
	return sess, Result{}, true
}

// Snapshot reports the allow-listed containers on the host. It only probes:
// a sleeping host yields an empty state and no engine call is made.
func (o *Orchestrator) Snapshot(ctx context.Context) (SessionState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(ctx)
}

func (o *Orchestrator) snapshot(ctx context.Context) (SessionState, error) {
	if !o.prober.Probe(ctx, o.host) {
		o.setPhase(PhaseAsleep)
		events.Emit(o.sink, events.Event{Kind: events.Snapshot, Host: o.host})
		return SessionState{Running: []string{}, Available: []string{}}, nil
	}

	sess, err := o.client.Open(ctx)
	if err != nil {
		return SessionState{Reachable: true}, err
	}
	defer sess.Close()

	records, err := sess.List(ctx, ScopeAll)
	if err != nil {
		return SessionState{Reachable: true}, err
	}

	state := SessionState{Reachable: true, Running: []string{}, Available: []string{}}
	for _, r := range records {
		if !o.allow.Permits(r.Name) {
			continue
		}
		state.Available = append(state.Available, r.Name)
		if r.State == StateRunning {
			state.Running = append(state.Running, r.Name)
		}
	}
	sort.Strings(state.Available)
	sort.Strings(state.Running)
	state.RunningCount = len(state.Running)
	check.That(state.RunningCount <= len(state.Available), "running %v not a subset of available %v", state.Running, state.Available)

	o.setPhase(phaseFor(state.RunningCount))
	events.Emit(o.sink, events.Event{
		Kind:      events.Snapshot,
		Host:      o.host,
		Reachable: true,
		Running:   append([]string(nil), state.Running...),
	})
	return state, nil
}

// Catalog returns every allow-listed container name on the host, waking it
// if necessary. Front-ends use it to refresh the names they offer.
func (o *Orchestrator) Catalog(ctx context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, err := o.client.Connect(ctx)
	if err != nil {
		if o.Phase() == PhaseWaking {
			o.setPhase(PhaseAsleep)
		}
		return nil, err
	}
	defer sess.Close()

	records, err := sess.List(ctx, ScopeAll)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records))
	running := 0
	for _, r := range records {
		if !o.allow.Permits(r.Name) {
			o.log.Debug("container is not allow-listed, ignoring", "container", r.Name)
			continue
		}
		names = append(names, r.Name)
		if r.State == StateRunning {
			running++
		}
	}
	sort.Strings(names)
	o.setPhase(phaseFor(running))
	return names, nil
}

// SuspendIfIdle is one monitor cycle: snapshot, then suspend the host if it
// is up with no allow-listed container running. A failed suspend is logged
// and reported in the returned CycleReport, never raised.
func (o *Orchestrator) SuspendIfIdle(ctx context.Context) CycleReport {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, err := o.snapshot(ctx)
	switch {
	case err != nil:
		o.log.Warn("snapshot failed, not suspending", "err", err)
		return CycleReport{State: state, Outcome: OutcomeError, Err: err}
	case !state.Reachable:
		return CycleReport{State: state, Outcome: OutcomeAsleep}
	case state.RunningCount > 0:
		return CycleReport{State: state, Outcome: OutcomeBusy}
	}

	if err := o.suspender.Suspend(ctx); err != nil {
		o.log.Error("host stays awake, suspend failed", "err", err)
		return CycleReport{State: state, Outcome: OutcomeSuspendFailed, Err: err}
	}
	o.setPhase(PhaseAsleep)
	return CycleReport{State: state, Outcome: OutcomeSuspended}
}

func (o *Orchestrator) emitIntent(action, name string, res Result) {
	events.Emit(o.sink, events.Event{
		Kind:      events.Intent,
		Host:      o.host,
		Container: name,
		Action:    action,
		Outcome:   string(res.Kind),
	})
}

func notAllowed(name string) Result {
	return Result{Kind: ResultNotAllowed, Message: fmt.Sprintf("%s is not available.", name)}
}

func notFound(name string) Result {
	return Result{Kind: ResultNotFound, Message: fmt.Sprintf("server %s does not exist.", name)}
}

func capacity(running int) Result {
	return Result{
		Kind:    ResultCapacity,
		Message: fmt.Sprintf("%d gameserver(s) are running. To avoid performance problems, no more servers will be started.", running),
		Running: running,
	}
}

func failed() Result {
	return Result{Kind: ResultFailed, Message: msgFailed}
}
