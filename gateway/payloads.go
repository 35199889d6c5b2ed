package gateway

// Frame is a single decoded gateway message. Data is still encoded with the codec
// the frame arrived in and is decoded lazily by whoever handles it.
type Frame struct {
	Opcode   Opcode
	Sequence *int64
	Type     string
	Data     []byte
}

type HelloData struct {
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type IdentifyProperties struct {
	Os      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

type IdentifyData struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Presence       *Presence          `json:"presence,omitempty"`
	Intents        *int               `json:"intents,omitempty"`
}

type ResumeData struct {
	Token     string `json:"token"`
	SessionId string `json:"session_id"`
	Sequence  *int64 `json:"seq"`
}

type UnavailableGuild struct {
	Id          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

type ReadyData struct {
	Version   int                `json:"v"`
	SessionId string             `json:"session_id"`
	Guilds    []UnavailableGuild `json:"guilds"`
	User      struct {
		Id       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

// guildIdentity is the part of GUILD_CREATE the shard itself cares about.
type guildIdentity struct {
	Id string `json:"id"`
}

type outboundFrame struct {
	Opcode Opcode      `json:"op" cbor:"op"`
	Data   interface{} `json:"d" cbor:"d"`
}
