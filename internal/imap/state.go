package imap

// State is the lifecycle position of a Conn.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateSecuring
	StateSecured
	StateAuthenticated
	StateSelected
	StateSearching
	StateFetching
	StateLoggedOut
	// StateFailed is terminal: no further command is written.
	StateFailed
)

var stateNames = map[State]string{
	StateDisconnected:  "disconnected",
	StateConnected:     "connected",
	StateSecuring:      "securing",
	StateSecured:       "secured",
	StateAuthenticated: "authenticated",
	StateSelected:      "selected",
	StateSearching:     "searching",
	StateFetching:      "fetching",
	StateLoggedOut:     "logged_out",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// usable reports whether commands may still be written in state s.
func (s State) usable() bool {
	return s != StateFailed && s != StateLoggedOut && s != StateDisconnected
}
