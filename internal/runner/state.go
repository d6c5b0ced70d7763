package runner

type State int

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StatePaused
	StateBreakpointHalted
	StateTerminating
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateBreakpointHalted:
		return "breakpoint_halted"
	case StateTerminating:
		return "terminating"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished
}

var transitions = map[State][]State{
	StateIdle:             {StateSpawning},
	StateSpawning:         {StateRunning, StateFinished},
	StateRunning:          {StatePaused, StateBreakpointHalted, StateTerminating},
	StatePaused:           {StateRunning, StateTerminating},
	StateBreakpointHalted: {StateRunning, StateTerminating},
	StateTerminating:      {StateFinished},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
