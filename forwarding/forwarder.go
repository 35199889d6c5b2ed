// Package forwarding pushes gateway events onto a Redis list for worker processes to
// consume.
package forwarding

import (
	"errors"
	"strconv"
	"time"

	"github.com/TicketsBot/common/eventforwarding"
	"github.com/TicketsBot/shardkit/gateway"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const (
	// the list eventforwarding.Listen consumes
	DefaultKey              = "tickets:events"
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 10 * time.Second

	// a GUILD_CREATE only counts as a join if the bot joined this recently. Older guilds
	// are ones coming back from an outage.
	joinWindow = time.Minute
)

// Pusher appends an event to a list, trimming it to at most max entries when max > 0.
type Pusher interface {
	Push(key string, event eventforwarding.Event, max int64) error
}

type Options struct {
	Key          string
	MaxLength    int64
	BotToken     string
	IsWhitelabel bool

	// the breaker opens after FailureThreshold consecutive failed pushes and allows a
	// trial push after ResetTimeout
	FailureThreshold uint32
	ResetTimeout     time.Duration
}

// Forwarder writes dispatches to Redis. While Redis is failing the breaker is open and
// events are dropped instead of piling up behind a dead connection.
type Forwarder struct {
	pusher  Pusher
	options Options
	breaker *gobreaker.CircuitBreaker
	dropped int

	// learnt from READY
	botId uint64
}

func NewForwarder(pusher Pusher, options Options) *Forwarder {
	if options.Key == "" {
		options.Key = DefaultKey
	}

	if options.FailureThreshold == 0 {
		options.FailureThreshold = DefaultFailureThreshold
	}

	if options.ResetTimeout == 0 {
		options.ResetTimeout = DefaultResetTimeout
	}

	return &Forwarder{
		pusher:  pusher,
		options: options,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "redis-forwarder",
			MaxRequests: 1,
			Timeout:     options.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= options.FailureThreshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logrus.Warnf("%s: circuit breaker %s -> %s", name, from.String(), to.String())
			},
		}),
	}
}

// Forward pushes the event if it is a dispatch. READY only records the bot's id, other
// events are ignored.
func (f *Forwarder) Forward(ev gateway.Event) error {
	if ready, ok := ev.(gateway.ReadyEvent); ok {
		return f.learnBotId(ready)
	}

	forwarded, ok, err := f.translate(ev, time.Now())
	if err != nil || !ok {
		return err
	}

	_, err = f.breaker.Execute(func() (interface{}, error) {
		return nil, f.pusher.Push(f.options.Key, forwarded, f.options.MaxLength)
	})

	return err
}

func (f *Forwarder) learnBotId(ev gateway.ReadyEvent) error {
	if len(ev.Data.Bytes) == 0 {
		return nil
	}

	var ready gateway.ReadyData
	if err := ev.Data.Unmarshal(&ready); err != nil {
		return err
	}

	if ready.User.Id == "" {
		return nil
	}

	botId, err := strconv.ParseUint(ready.User.Id, 10, 64)
	if err != nil {
		return err
	}

	f.botId = botId
	return nil
}

// Run forwards every event until the channel is closed.
func (f *Forwarder) Run(events <-chan gateway.Event) {
	for ev := range events {
		f.Handle(ev)
	}
}

// Handle forwards the event, logging failures. Events dropped while the breaker is open are
// counted and reported once Redis recovers. It must not be called concurrently.
func (f *Forwarder) Handle(ev gateway.Event) {
	err := f.Forward(ev)
	switch {
	case err == nil:
		if f.dropped > 0 {
			logrus.Infof("event forwarding recovered, %d events dropped", f.dropped)
			f.dropped = 0
		}
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		f.dropped++
	default:
		logrus.Warnf("shard %d: error forwarding event: %s", ev.Shard(), err.Error())
	}
}

type guildJoin struct {
	JoinedAt time.Time `json:"joined_at"`
}

func (f *Forwarder) translate(ev gateway.Event, now time.Time) (eventforwarding.Event, bool, error) {
	forwarded := eventforwarding.Event{
		BotToken:     f.options.BotToken,
		BotId:        f.botId,
		IsWhitelabel: f.options.IsWhitelabel,
	}

	var data gateway.RawData
	switch ev := ev.(type) {
	case gateway.DispatchEvent:
		forwarded.ShardId = ev.ShardId
		forwarded.EventType = ev.Name
		data = ev.Data

		// guilds listed in READY arrive as GuildLoadedEvent, so this guild is new to the
		// session. It is only a join if the bot was added just now, so consumers don't greet
		// every guild after an outage.
		if ev.Name == "GUILD_CREATE" && len(data.Bytes) > 0 {
			var guild guildJoin
			if err := data.Unmarshal(&guild); err != nil {
				return forwarded, false, err
			}

			forwarded.Extra.IsJoin = guild.JoinedAt.Add(joinWindow).After(now)
		}
	case gateway.GuildLoadedEvent:
		forwarded.ShardId = ev.ShardId
		forwarded.EventType = "GUILD_CREATE"
		data = ev.Data
	default:
		return forwarded, false, nil
	}

	encoded, err := data.JSON()
	if err != nil {
		return forwarded, false, err
	}

	forwarded.Data = encoded
	return forwarded, true, nil
}
