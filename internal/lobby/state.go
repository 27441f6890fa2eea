package lobby

// State is a lobby's lifecycle stage: Waiting → Running → Ended.
type State uint8

const (
	StateWaiting State = iota // Roster open, world idle
	StateRunning              // World ticking
	StateEnded                // Players destroyed, waiting for teardown
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}
