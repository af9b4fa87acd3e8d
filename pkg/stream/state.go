package stream

// State is a block stream ingest state
type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateApplying
	StateReconnecting
	StateFailed
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateApplying:
		return "applying"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateFailed || s == StateShutdown
}
