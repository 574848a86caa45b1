package lifecycle

// Phase is the host lifecycle state as last observed by the orchestrator.
// It is reported, never persisted, and never used to skip a probe.
type Phase uint8

const (
	PhaseUnknown Phase = iota
	PhaseAsleep
	PhaseWaking
	PhaseAwakeIdle
	PhaseAwakeBusy
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseAsleep:
		return "asleep"
	case PhaseWaking:
		return "waking"
	case PhaseAwakeIdle:
		return "awake_idle"
	case PhaseAwakeBusy:
		return "awake_busy"
	default:
		return "invalid"
	}
}

// Awake reports whether p is one of the awake phases.
func (p Phase) Awake() bool {
	return p == PhaseAwakeIdle || p == PhaseAwakeBusy
}

// Transition returns the phase after moving to `to` and whether the move is
// legal. An illegal move leaves the phase unchanged.
//
// A host can be found asleep from any phase (it may be suspended or powered
// off behind our back), but only a sleeping host is ever woken.
func (p Phase) Transition(to Phase) (Phase, bool) {
	if p == to {
		return p, true
	}
	ok := false
	switch p {
	case PhaseUnknown:
		ok = to != PhaseUnknown
	case PhaseAsleep:
		ok = to == PhaseWaking || to.Awake()
	case PhaseWaking:
		ok = to == PhaseAsleep || to.Awake()
	case PhaseAwakeIdle, PhaseAwakeBusy:
		ok = to == PhaseAsleep || to.Awake()
	}
	if !ok {
		return p, false
	}
	return to, true
}

func phaseFor(running int) Phase {
	if running > 0 {
		return PhaseAwakeBusy
	}
	return PhaseAwakeIdle
}
