package saga

// State represents the lifecycle state of a saga instance.
type State string

const (
	StatePending            State = "pending"
	StateRunning            State = "running"
	StateCompensating       State = "compensating"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateCompensationFailed State = "compensation_failed"
)

// legalTransitions is the full transition table. Terminal states have no
// outgoing transitions, including self-loops.
var legalTransitions = map[State][]State{
	StatePending:      {StateRunning},
	StateRunning:      {StateCompleted, StateCompensating},
	StateCompensating: {StateFailed, StateCompensationFailed},
}

// CanTransitionTo reports whether moving to next is a legal transition.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state has no outgoing transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCompensationFailed:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known saga states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateRunning, StateCompensating,
		StateCompleted, StateFailed, StateCompensationFailed:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}
