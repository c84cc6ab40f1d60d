package protocol

import "fmt"

// TransitionValidator decides whether a server-asserted status change is
// acceptable. A nil validator accepts everything.
type TransitionValidator func(from, to Status) error

var statusRank = map[Status]int{
	StatusIdle:          0,
	StatusAwaitingAuth:  1,
	StatusAuthenticated: 2,
	StatusExtracting:    3,
	StatusComplete:      4,
}

// StrictTransitions only lets a session move forward through the login and
// extraction phases. Error is reachable from anywhere; terminal statuses only
// repeat themselves.
func StrictTransitions(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("illegal transition %s -> %s: %s is terminal", from, to, from)
	}
	if to == StatusError {
		return nil
	}
	if statusRank[to] < statusRank[from] {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return nil
}
