package lifecycle_test

import (
	"context"
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"dozer/internal/adapter/fake"
	"dozer/internal/allowlist"
	"dozer/internal/events"
	"dozer/internal/lifecycle"
	"dozer/internal/wake"
)

const testHost = "10.0.0.5"

var testMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

type harness struct {
	prober    *fake.Prober
	waker     *fake.Waker
	backend   *fake.Backend
	suspender *fake.Suspender
	rec       *events.Recorder
	orch      *lifecycle.Orchestrator
}

func newHarness(t *testing.T, reachable bool, allow *allowlist.List, maxActive int) *harness {
	t.Helper()
	h := &harness{
		prober:  fake.NewProber(reachable),
		backend: fake.NewBackend(),
		rec:     &events.Recorder{},
	}
	h.waker = &fake.Waker{Prober: h.prober}
	h.suspender = &fake.Suspender{Prober: h.prober}
	h.orch = lifecycle.NewOrchestrator(
		lifecycle.Config{Host: testHost, WakeBudget: 6, MaxActive: maxActive},
		allow,
		lifecycle.Deps{
			Prober:    h.prober,
			Waker:     h.waker,
			Opener:    h.backend,
			Suspender: h.suspender,
			Sink:      h.rec,
		},
	)
	return h
}

func TestHandleStartRejectsAtCapacity(t *testing.T) {
	h := newHarness(t, true, allowlist.New(allowlist.MatchAll), 1)
	h.backend.
		Put("game1", lifecycle.StateRunning).
		Put("game2", lifecycle.StateRunning).
		Put("game3", lifecycle.StateStopped)

	res := h.orch.HandleStart(context.Background(), "game3")

	if res.Kind != lifecycle.ResultCapacity {
		t.Fatalf("kind = %s, want %s", res.Kind, lifecycle.ResultCapacity)
	}
	want := "2 gameserver(s) are running. To avoid performance problems, no more servers will be started."
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	if res.Running != 2 {
		t.Errorf("running = %d, want 2", res.Running)
	}
	if got := h.backend.Count("Start"); got != 0 {
		t.Errorf("Start calls = %d, want 0", got)
	}
	if state, _ := h.backend.State("game3"); state != lifecycle.StateStopped {
		t.Errorf("game3 state = %s, want stopped", state)
	}
	if got := h.backend.OpenSessions(); got != 0 {
		t.Errorf("open sessions = %d, want 0", got)
	}
}

func TestHandleStartCapacityBoundary(t *testing.T) {
	tests := []struct {
		name      string
		maxActive int
		running   []string
		want      lifecycle.ResultKind
	}{
		{name: "idle host starts", maxActive: 1, want: lifecycle.ResultStarting},
		{name: "one running blocks at cap 1", maxActive: 1, running: []string{"game1"}, want: lifecycle.ResultCapacity},
		{name: "one running allowed at cap 2", maxActive: 2, running: []string{"game1"}, want: lifecycle.ResultStarting},
		{name: "zero cap falls back to default", maxActive: 0, running: []string{"game1"}, want: lifecycle.ResultCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, allowlist.New(allowlist.MatchAll), tt.maxActive)
			h.backend.Put("target", lifecycle.StateStopped)
			for _, n := range tt.running {
				h.backend.Put(n, lifecycle.StateRunning)
			}

			res := h.orch.HandleStart(context.Background(), "target")
			if res.Kind != tt.want {
				t.Fatalf("kind = %s, want %s (%s)", res.Kind, tt.want, res.Message)
			}
		})
	}
}

func TestHandleStartIgnoresNoiseContainers(t *testing.T) {
	h := newHarness(t, true, allowlist.New("game1", "game2"), 1)
	h.backend.
		Put("game1", lifecycle.StateStopped).
		Put("game2", lifecycle.StateStopped).
		Put("postgres", lifecycle.StateRunning).
		Put("traefik", lifecycle.StateRunning)

	res := h.orch.HandleStart(context.Background(), "game1")
	if res.Kind != lifecycle.ResultStarting {
		t.Fatalf("kind = %s, want starting (%s)", res.Kind, res.Message)
	}
	if res.Message != "starting server." {
		t.Errorf("message = %q", res.Message)
	}
	if state, _ := h.backend.State("game1"); state != lifecycle.StateRunning {
		t.Errorf("game1 state = %s, want running", state)
	}
	if got := h.orch.Phase(); got != lifecycle.PhaseAwakeBusy {
		t.Errorf("phase = %s, want awake_busy", got)
	}
}

func TestHandleStartOnUnreachableHostExhaustsWake(t *testing.T) {
	prober := fake.NewProber(false)
	sender := &fake.PacketSender{}
	backend := fake.NewBackend().Put("game1", lifecycle.StateStopped)

	var waits []time.Duration
	driver := wake.NewDriver(testHost, testMAC, prober, sender,
		wake.WithSleep(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}),
	)
	orch := lifecycle.NewOrchestrator(
		lifecycle.Config{Host: testHost, WakeBudget: 6},
		allowlist.New("game1"),
		lifecycle.Deps{Prober: prober, Waker: driver, Opener: backend, Suspender: &fake.Suspender{}},
	)

	res := orch.HandleStart(context.Background(), "game1")

	if res.Kind != lifecycle.ResultUnreachable {
		t.Fatalf("kind = %s, want unreachable", res.Kind)
	}
	if res.Message != "could not wake main server. Please try again later" {
		t.Errorf("message = %q", res.Message)
	}
	if got := sender.Count("Send"); got != 6 {
		t.Errorf("wake packets = %d, want 6", got)
	}
	if len(waits) != 6 {
		t.Errorf("waits = %d, want 6", len(waits))
	}
	for _, w := range waits {
		if w != 2*time.Second {
			t.Errorf("wait = %v, want 2s", w)
		}
	}
	if got := backend.Count(""); got != 0 {
		t.Errorf("backend calls = %v, want none", backend.Methods())
	}
	if got := orch.Phase(); got != lifecycle.PhaseAsleep {
		t.Errorf("phase = %s, want asleep", got)
	}
}

func TestHandleStartWakesSleepingHost(t *testing.T) {
	h := newHarness(t, false, allowlist.New("game1"), 1)
	h.waker.Result = true
	h.backend.Put("game1", lifecycle.StateStopped)

	res := h.orch.HandleStart(context.Background(), "game1")
	if res.Kind != lifecycle.ResultStarting {
		t.Fatalf("kind = %s, want starting (%s)", res.Kind, res.Message)
	}
	wakes := h.waker.Calls("Wake")
	if len(wakes) != 1 || wakes[0].Args[0] != 6 {
		t.Errorf("Wake calls = %v, want one with budget 6", wakes)
	}
	if got, want := h.backend.Methods(), []string{"Open", "List", "Start", "Close"}; !slices.Equal(got, want) {
		t.Errorf("backend calls = %v, want %v", got, want)
	}
}

func TestHandleStartOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		allow   *allowlist.List
		setup   func(*harness)
		target  string
		want    lifecycle.ResultKind
		message string
	}{
		{
			name:    "not allow-listed",
			allow:   allowlist.New("game1"),
			target:  "game2",
			want:    lifecycle.ResultNotAllowed,
			message: "game2 is not available.",
		},
		{
			name:    "missing container",
			allow:   allowlist.New(allowlist.MatchAll),
			target:  "ghost",
			want:    lifecycle.ResultNotFound,
			message: "server ghost does not exist.",
		},
		{
			name:  "already running",
			allow: allowlist.New("game1"),
			setup: func(h *harness) {
				h.backend.Put("game1", lifecycle.StateRunning)
			},
			target:  "game1",
			want:    lifecycle.ResultAlreadyRunning,
			message: "server is already running.",
		},
		{
			name:  "engine refuses session",
			allow: allowlist.New("game1"),
			setup: func(h *harness) {
				h.backend.Put("game1", lifecycle.StateStopped)
				h.backend.Faults.FailAlways(fake.FaultOpen, errors.New("connection refused"))
			},
			target:  "game1",
			want:    lifecycle.ResultUnreachable,
			message: "could not wake main server. Please try again later",
		},
		{
			name:  "start fails",
			allow: allowlist.New("game1"),
			setup: func(h *harness) {
				h.backend.Put("game1", lifecycle.StateStopped)
				h.backend.Faults.FailNext(fake.FaultStart, errors.New("port is already allocated"))
			},
			target:  "game1",
			want:    lifecycle.ResultFailed,
			message: "something went wrong. Please try again later",
		},
		{
			name:  "list fails",
			allow: allowlist.New("game1"),
			setup: func(h *harness) {
				h.backend.Faults.FailNext(fake.FaultList, errors.New("EOF"))
			},
			target: "game1",
			want:   lifecycle.ResultFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true, tt.allow, 1)
			if tt.setup != nil {
				tt.setup(h)
			}

			res := h.orch.HandleStart(context.Background(), tt.target)
			if res.Kind != tt.want {
				t.Fatalf("kind = %s, want %s (%s)", res.Kind, tt.want, res.Message)
			}
			if tt.message != "" && res.Message != tt.message {
				t.Errorf("message = %q, want %q", res.Message, tt.message)
			}
			if tt.want != lifecycle.ResultStarting && tt.want != lifecycle.ResultFailed {
				if got := h.backend.Count("Start"); got != 0 {
					t.Errorf("Start calls = %d, want 0", got)
				}
			}
			if got := h.backend.OpenSessions(); got != 0 {
				t.Errorf("open sessions = %d, want 0", got)
			}
		})
	}
}

func TestHandleStartNotAllowedSkipsProbe(t *testing.T) {
	h := newHarness(t, true, allowlist.New("game1"), 1)

	h.orch.HandleStart(context.Background(), "other")

	if got := h.prober.Count("Probe"); got != 0 {
		t.Errorf("Probe calls = %d, want 0", got)
	}
}

func TestHandleStop(t *testing.T) {
	t.Run("stops without suspending", func(t *testing.T) {
		h := newHarness(t, true, allowlist.New("game1"), 1)
		h.backend.Put("game1", lifecycle.StateRunning)

		res := h.orch.HandleStop(context.Background(), "game1")
		if res.Kind != lifecycle.ResultStopping || res.Message != "stopping server." {
			t.Fatalf("result = %+v, want stopping", res)
		}
		if state, _ := h.backend.State("game1"); state != lifecycle.StateStopped {
			t.Errorf("game1 state = %s, want stopped", state)
		}
		if got := h.backend.Count("List"); got != 0 {
			t.Errorf("List calls = %d, want 0, stop has no capacity check", got)
		}
		if got := h.suspender.Count("Suspend"); got != 0 {
			t.Errorf("Suspend calls = %d, want 0", got)
		}
	})

	t.Run("unknown container", func(t *testing.T) {
		h := newHarness(t, true, allowlist.New(allowlist.MatchAll), 1)
		res := h.orch.HandleStop(context.Background(), "ghost")
		if res.Kind != lifecycle.ResultNotFound {
			t.Fatalf("kind = %s, want not_found", res.Kind)
		}
	})

	t.Run("wake fails", func(t *testing.T) {
		h := newHarness(t, false, allowlist.New("game1"), 1)
		res := h.orch.HandleStop(context.Background(), "game1")
		if res.Kind != lifecycle.ResultUnreachable {
			t.Fatalf("kind = %s, want unreachable", res.Kind)
		}
		if got := h.backend.Count(""); got != 0 {
			t.Errorf("backend calls = %v, want none", h.backend.Methods())
		}
	})

	t.Run("engine error", func(t *testing.T) {
		h := newHarness(t, true, allowlist.New("game1"), 1)
		h.backend.Put("game1", lifecycle.StateRunning)
		h.backend.Faults.FailNext(fake.FaultStop, errors.New("timeout"))
		res := h.orch.HandleStop(context.Background(), "game1")
		if res.Kind != lifecycle.ResultFailed {
			t.Fatalf("kind = %s, want failed", res.Kind)
		}
	})
}

func TestSnapshotUnreachableOnlyProbes(t *testing.T) {
	h := newHarness(t, false, allowlist.New(allowlist.MatchAll), 1)
	h.backend.Put("game1", lifecycle.StateRunning)

	state, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if state.Reachable || state.RunningCount != 0 || len(state.Running) != 0 {
		t.Errorf("state = %+v, want empty unreachable state", state)
	}
	if state.Running == nil || state.Available == nil {
		t.Errorf("state slices must be empty, not nil: %+v", state)
	}
	if got := h.prober.Count("Probe"); got != 1 {
		t.Errorf("Probe calls = %d, want 1", got)
	}
	if got := h.backend.Count(""); got != 0 {
		t.Errorf("backend calls = %v, want none", h.backend.Methods())
	}
	if got := h.waker.Count("Wake"); got != 0 {
		t.Errorf("Wake calls = %d, want 0", got)
	}
}

func TestSnapshotFiltersAndSorts(t *testing.T) {
	h := newHarness(t, true, allowlist.New("zeta", "alpha", "beta"), 1)
	h.backend.
		Put("zeta", lifecycle.StateRunning).
		Put("alpha", lifecycle.StateRunning).
		Put("beta", lifecycle.StateStopped).
		Put("postgres", lifecycle.StateRunning)

	state, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !state.Reachable {
		t.Fatal("state.Reachable = false")
	}
	if got, want := state.Running, []string{"alpha", "zeta"}; !slices.Equal(got, want) {
		t.Errorf("running = %v, want %v", got, want)
	}
	if got, want := state.Available, []string{"alpha", "beta", "zeta"}; !slices.Equal(got, want) {
		t.Errorf("available = %v, want %v", got, want)
	}
	if state.RunningCount != 2 {
		t.Errorf("running count = %d, want 2", state.RunningCount)
	}
	if got := h.orch.Phase(); got != lifecycle.PhaseAwakeBusy {
		t.Errorf("phase = %s, want awake_busy", got)
	}
	if got := len(h.rec.Events(events.Snapshot)); got != 1 {
		t.Errorf("snapshot events = %d, want 1", got)
	}
}

func TestCatalog(t *testing.T) {
	h := newHarness(t, false, allowlist.New("mc", "factorio"), 1)
	h.waker.Result = true
	h.backend.
		Put("mc", lifecycle.StateStopped).
		Put("factorio", lifecycle.StateStopped).
		Put("grafana", lifecycle.StateRunning)

	names, err := h.orch.Catalog(context.Background())
	if err != nil {
		t.Fatalf("Catalog() error = %v", err)
	}
	if want := []string{"factorio", "mc"}; !slices.Equal(names, want) {
		t.Errorf("Catalog() = %v, want %v", names, want)
	}
	if got := h.waker.Count("Wake"); got != 1 {
		t.Errorf("Wake calls = %d, want 1", got)
	}
	if got := h.orch.Phase(); got != lifecycle.PhaseAwakeIdle {
		t.Errorf("phase = %s, want awake_idle", got)
	}
}

func TestCatalogUnreachable(t *testing.T) {
	h := newHarness(t, false, allowlist.New(allowlist.MatchAll), 1)

	_, err := h.orch.Catalog(context.Background())
	if !errors.Is(err, lifecycle.ErrConnectivity) {
		t.Fatalf("Catalog() error = %v, want ErrConnectivity", err)
	}
	if got := h.orch.Phase(); got != lifecycle.PhaseAsleep {
		t.Errorf("phase = %s, want asleep", got)
	}
}

func TestIntentEvents(t *testing.T) {
	h := newHarness(t, true, allowlist.New("game1"), 1)
	h.backend.Put("game1", lifecycle.StateStopped)

	h.orch.HandleStart(context.Background(), "game1")
	h.orch.HandleStop(context.Background(), "game1")

	intents := h.rec.Events(events.Intent)
	if len(intents) != 2 {
		t.Fatalf("intent events = %d, want 2", len(intents))
	}
	if intents[0].Action != "start" || intents[0].Outcome != string(lifecycle.ResultStarting) {
		t.Errorf("first intent = %+v", intents[0])
	}
	if intents[1].Action != "stop" || intents[1].Container != "game1" {
		t.Errorf("second intent = %+v", intents[1])
	}
}

func TestHandleStartSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	backend := fake.NewBackend().Put("game1", lifecycle.StateStopped)
	orch := lifecycle.NewOrchestrator(
		lifecycle.Config{Host: testHost, WakeBudget: 6},
		allowlist.New("game1"),
		lifecycle.Deps{
			Prober:    fake.NewProber(true),
			Waker:     &fake.Waker{},
			Opener:    backend,
			Suspender: &fake.Suspender{},
			Tracer:    tp.Tracer("test"),
		},
	)

	orch.HandleStart(context.Background(), "game1")

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	for _, want := range []string{"orchestrator.start", "ensure-awake", "capacity", "start"} {
		if !slices.Contains(names, want) {
			t.Errorf("spans = %v, missing %q", names, want)
		}
	}
}

// gatedWaker blocks in Wake until release is closed, then makes the host
// reachable.
type gatedWaker struct {
	prober  *fake.Prober
	entered chan struct{}
	release chan struct{}
}

func (w *gatedWaker) Wake(ctx context.Context, _ int) bool {
	close(w.entered)
	select {
	case <-w.release:
	case <-ctx.Done():
		return false
	}
	w.prober.SetReachable(true)
	return true
}

func TestHandleStartSerializesWithMonitorCycle(t *testing.T) {
	prober := fake.NewProber(false)
	backend := fake.NewBackend().Put("game1", lifecycle.StateStopped)
	suspender := &fake.Suspender{Prober: prober}
	waker := &gatedWaker{prober: prober, entered: make(chan struct{}), release: make(chan struct{})}
	orch := lifecycle.NewOrchestrator(
		lifecycle.Config{Host: testHost, WakeBudget: 6, MaxActive: 1},
		allowlist.New(allowlist.MatchAll),
		lifecycle.Deps{Prober: prober, Waker: waker, Opener: backend, Suspender: suspender},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := make(chan lifecycle.Result, 1)
	go func() { started <- orch.HandleStart(ctx, "game1") }()
	select {
	case <-waker.entered:
	case <-ctx.Done():
		t.Fatal("HandleStart never reached Wake")
	}

	cycled := make(chan lifecycle.CycleReport, 1)
	go func() { cycled <- orch.SuspendIfIdle(ctx) }()

	select {
	case report := <-cycled:
		t.Fatalf("cycle finished during wake with outcome %s", report.Outcome)
	case <-time.After(100 * time.Millisecond):
	}
	if got := suspender.Count("Suspend"); got != 0 {
		t.Fatalf("Suspend calls during wake = %d, want 0", got)
	}

	close(waker.release)

	if res := <-started; res.Kind != lifecycle.ResultStarting {
		t.Fatalf("start kind = %s, want %s (%s)", res.Kind, lifecycle.ResultStarting, res.Message)
	}
	if report := <-cycled; report.Outcome != lifecycle.OutcomeBusy {
		t.Errorf("cycle outcome = %s, want %s", report.Outcome, lifecycle.OutcomeBusy)
	}
	if got := suspender.Count("Suspend"); got != 0 {
		t.Errorf("Suspend calls = %d, want 0", got)
	}
}
