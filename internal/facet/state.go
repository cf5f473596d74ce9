package facet

// State is the lifecycle state of a facet.
type State int

const (
	// StateNew is a facet that was never initialized.
	StateNew State = iota

	// StateInitialized has captured repository metadata but no index yet.
	StateInitialized

	// StateStarted owns an index and accepts synchronization calls.
	StateStarted

	// StateStopped keeps its index but rejects synchronization calls.
	StateStopped

	// StateDeleted has removed its index. Terminal.
	StateDeleted
)

// String returns the state name used in errors and logs.
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInitialized:
		return "INITIALIZED"
	case StateStarted:
		return "STARTED"
	case StateStopped:
		return "STOPPED"
	case StateDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// in reports whether s is one of states.
func (s State) in(states ...State) bool {
	for _, other := range states {
		if s == other {
			return true
		}
	}
	return false
}
