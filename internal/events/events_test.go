package events

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestEmitStampsTime(t *testing.T) {
	var rec Recorder
	Emit(&rec, Event{Kind: WakeAttempt, Attempt: 1})

	got := rec.Events(WakeAttempt)
	if len(got) != 1 {
		t.Fatalf("recorded %d events, want 1", len(got))
	}
	if got[0].Time.IsZero() {
		t.Error("event time was not stamped")
	}
}

func TestEmitNilSink(t *testing.T) {
	Emit(nil, Event{Kind: Snapshot})
}

func TestFanout(t *testing.T) {
	var a, b Recorder
	calls := 0
	f := Fanout{&a, nil, &b, SinkFunc(func(Event) { calls++ })}
	f.Emit(Event{Kind: MonitorCycle})

	if len(a.Events("")) != 1 || len(b.Events("")) != 1 || calls != 1 {
		t.Errorf("fanout delivered a=%d b=%d func=%d, want 1 each", len(a.Events("")), len(b.Events("")), calls)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	Log{Logger: logger}.Emit(Event{Kind: SuspendFailed, Host: "gamebox", MaxAttempts: 5, Err: errors.New("dial tcp: refused")})

	out := buf.String()
	for _, want := range []string{"level=ERROR", `msg="failed to suspend host"`, "event=suspend.failed", "host=gamebox", "attempts=5", "refused"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q missing %q", out, want)
		}
	}
}

func TestRecorderFiltersByKind(t *testing.T) {
	var rec Recorder
	rec.Emit(Event{Kind: WakeAttempt})
	rec.Emit(Event{Kind: WakeAttempt})
	rec.Emit(Event{Kind: WakeExhausted})

	if n := len(rec.Events(WakeAttempt)); n != 2 {
		t.Errorf("wake attempts: got %d, want 2", n)
	}
	if n := len(rec.Events("")); n != 3 {
		t.Errorf("all events: got %d, want 3", n)
	}
}
