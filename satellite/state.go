package satellite

// State is the supervisor's lifecycle phase.
type State string

const (
	// StateStarting means the worker is launching or initializing.
	StateStarting State = "starting"
	// StateReady means the worker is initialized and idle.
	StateReady State = "ready"
	// StateBusy means a call is in flight. One call at a time.
	StateBusy State = "busy"
	// StateFaulted means the worker failed and is awaiting relaunch.
	StateFaulted State = "faulted"
	// StateTerminated means the restart budget is exhausted or the
	// satellite was shut down. Only an explicit reset leaves this state.
	StateTerminated State = "terminated"
)

func (s State) String() string { return string(s) }
