package link

// State is the manager's position in the connection lifecycle.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

var stateNames = []string{
	StateIdle.String(),
	StateConnecting.String(),
	StateListening.String(),
	StateConnected.String(),
	StateClosing.String(),
}
