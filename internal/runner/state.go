package runner

// State is a step of the trigger cycle.
type State int

const (
	StateCheckingMode State = iota
	StateResetting
	StateSelectingProgram
	StateTriggering
	StateAwaitingResult
	StateFinalReset
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StateCheckingMode:     "checking_mode",
	StateResetting:        "resetting",
	StateSelectingProgram: "selecting_program",
	StateTriggering:       "triggering",
	StateAwaitingResult:   "awaiting_result",
	StateFinalReset:       "final_reset",
	StateSucceeded:        "succeeded",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether the cycle is over.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// next is the happy-path successor of s. Debug runs skip the closing reset
// so the controller keeps its error state for inspection.
func next(s State, debug bool) State {
	switch s {
	case StateCheckingMode:
		return StateResetting
	case StateResetting:
		return StateSelectingProgram
	case StateSelectingProgram:
		return StateTriggering
	case StateTriggering:
		return StateAwaitingResult
	case StateAwaitingResult:
		if debug {
			return StateSucceeded
		}
		return StateFinalReset
	case StateFinalReset:
		return StateSucceeded
	default:
		return s
	}
}
