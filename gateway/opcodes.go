package gateway

type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpPresenceUpdate:
		return "PRESENCE_UPDATE"
	case OpResume:
		return "RESUME"
	case OpReconnect:
		return "RECONNECT"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return "UNKNOWN"
	}
}
