package transaction

import (
	"errors"
	"fmt"
	"strings"
)

// State is a step in the transaction lifecycle.
type State string

const (
	StateCreated  State = "CREATED"
	StateSent     State = "SENT"
	StateApproved State = "APPROVED"
	StateDeclined State = "DECLINED"
	StateTimeout  State = "TIMEOUT"
	StateReversed State = "REVERSED"
	StateVoided   State = "VOIDED"
	StateFailed   State = "FAILED"
)

var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError reports a rejected transition. It matches
// ErrInvalidTransition with errors.Is.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// transitions is the complete table of legal edges. Anything not listed
// is rejected.
var transitions = map[State][]State{
	StateCreated:  {StateSent},
	StateSent:     {StateApproved, StateDeclined, StateTimeout, StateFailed},
	StateTimeout:  {StateReversed},
	StateApproved: {StateVoided, StateReversed},
	StateDeclined: {StateReversed},
}

var allStates = []State{
	StateCreated, StateSent, StateApproved, StateDeclined,
	StateTimeout, StateReversed, StateVoided, StateFailed,
}

// States returns every lifecycle state.
func States() []State {
	out := make([]State, len(allStates))
	copy(out, allStates)
	return out
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition returns to when the edge is legal, otherwise from together
// with a *TransitionError.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}

// IsTerminal reports whether the state is an end of the normal flow.
// Declined still allows a manual reversal.
func (s State) IsTerminal() bool {
	switch s {
	case StateReversed, StateVoided, StateDeclined, StateFailed:
		return true
	}
	return false
}

func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok || s == StateReversed || s == StateVoided || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

// ParseState accepts state names case-insensitively.
func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown transaction state %q", v)
	}
	return s, nil
}
