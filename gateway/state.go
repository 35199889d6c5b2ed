package gateway

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateReady
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingHello:
		return "AWAITING_HELLO"
	case StateIdentifying:
		return "IDENTIFYING"
	case StateResuming:
		return "RESUMING"
	case StateReady:
		return "READY"
	case StateReconnecting:
		return "RECONNECTING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}
