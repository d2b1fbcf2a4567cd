package session

import "time"

// State is the lifecycle state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Transition is published once per state change.
type Transition struct {
	From   State
	To     State
	Reason string // why the session failed, empty otherwise
	Err    error
	At     time.Time
}

var legal = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Failed, Disconnected},
	Connected:    {Failed, Disconnected},
	Failed:       {Connecting, Disconnected},
}

// CanTransition reports whether from -> to is an edge of the session state machine.
func CanTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}
