package supervisor

import "encoding/json"

type MessageType string

const (
	MessageReady           MessageType = "ready"
	MessageResumed         MessageType = "resumed"
	MessageAllGuildsLoaded MessageType = "guilds_loaded"
	MessageEvent           MessageType = "event"
	MessageFatal           MessageType = "fatal"
)

// Message is what a worker reports to its supervisor, one JSON document per line on the
// worker's stdout. The supervisor routes messages without interpreting them.
type Message struct {
	Type    MessageType     `json:"m"`
	ShardId int             `json:"shard_id"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WorkerMessage is a Message tagged with the worker that sent it.
type WorkerMessage struct {
	Worker int
	Message
}
