package gateway

import (
	"time"

	"github.com/rxdn/gdl/gateway/intents"
)

const (
	DefaultGatewayURL      = "wss://gateway.discord.gg/"
	DefaultGatewayVersion  = 6
	DefaultIdentifySpacing = 6 * time.Second
	DefaultInvalidDelay    = 4 * time.Second
	DefaultReconnectDelay  = 500 * time.Millisecond
	DefaultFatalExitDelay  = 300 * time.Millisecond
)

type ShardOptions struct {
	ShardCount     ShardCount
	GatewayURL     string
	GatewayVersion int
	Compress       bool
	LargeThreshold int
	Presence       *Presence
	Intents        []intents.Intent
	Properties     IdentifyProperties

	// FatalCloseCodes replaces DefaultFatalCloseCodes when set.
	FatalCloseCodes map[int]bool

	IdentifySpacing time.Duration // between shard starts, defaults to 6s
	InvalidDelay    time.Duration // before retrying a resumable invalid session
	ReconnectDelay  time.Duration // after a failed dial

	SessionStore SessionStore
	EventBuffer  int
	Debug        bool
}

type ShardCount struct {
	Total   int
	Lowest  int // Inclusive
	Highest int // Exclusive
}

func (o ShardOptions) withDefaults() ShardOptions {
	if o.GatewayURL == "" {
		o.GatewayURL = DefaultGatewayURL
	}

	if o.GatewayVersion == 0 {
		o.GatewayVersion = DefaultGatewayVersion
	}

	if o.FatalCloseCodes == nil {
		o.FatalCloseCodes = DefaultFatalCloseCodes()
	}

	if o.IdentifySpacing == 0 {
		o.IdentifySpacing = DefaultIdentifySpacing
	}

	if o.InvalidDelay == 0 {
		o.InvalidDelay = DefaultInvalidDelay
	}

	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}

	if o.Properties == (IdentifyProperties{}) {
		o.Properties = IdentifyProperties{
			Os:      "linux",
			Browser: "shardkit",
			Device:  "shardkit",
		}
	}

	if o.EventBuffer == 0 {
		o.EventBuffer = 1000
	}

	return o
}

// intentsBitmask sums the configured intents, or returns nil when none were set.
func (o ShardOptions) intentsBitmask() *int {
	if len(o.Intents) == 0 {
		return nil
	}

	var sum int
	for _, intent := range o.Intents {
		sum |= int(intent)
	}

	return &sum
}
