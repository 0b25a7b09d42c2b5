package domain

var transitions = map[State][]State{
	StateCreated:  {StateAssigned},
	StateAssigned: {StateStarted},
	StateStarted:  {StateInReview},
	StateInReview: {StateDone, StateAssigned},
	StateDone:     nil,
}

// Valid reports whether s is one of the lifecycle states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EnsureTransition returns an InvalidTransitionError when from -> to is not allowed.
func EnsureTransition(from, to State) error {
	if !CanTransition(from, to) {
		return InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// DateKey is the Dates entry stamped when an order enters s.
func DateKey(s State) string {
	switch s {
	case StateAssigned:
		return DateAssigned
	case StateStarted:
		return DateStart
	case StateInReview:
		return DateEnd
	case StateDone:
		return DateApprovedAt
	}
	return ""
}
