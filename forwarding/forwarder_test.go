package forwarding

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TicketsBot/common/eventforwarding"
	"github.com/TicketsBot/shardkit/gateway"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type push struct {
	key   string
	event eventforwarding.Event
	max   int64
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []push
	err    error
}

func (p *fakePusher) Push(key string, event eventforwarding.Event, max int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.pushes = append(p.pushes, push{key: key, event: event, max: max})
	return nil
}

func (p *fakePusher) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePusher) recorded() []push {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]push(nil), p.pushes...)
}

func dispatch(name, data string) gateway.DispatchEvent {
	return gateway.DispatchEvent{
		ShardId:  3,
		Name:     name,
		Sequence: 12,
		Data:     gateway.NewRawData([]byte(data), gateway.JSONCodec{}),
	}
}

func guildCreate(joinedAt time.Time) gateway.DispatchEvent {
	return dispatch("GUILD_CREATE", fmt.Sprintf(`{"id":"2","joined_at":%q}`, joinedAt.Format(time.RFC3339Nano)))
}

func TestForwardDispatch(t *testing.T) {
	pusher := &fakePusher{}
	f := NewForwarder(pusher, Options{MaxLength: 1000, BotToken: "token"})

	require.NoError(t, f.Forward(gateway.ReadyEvent{
		ShardId: 3,
		Data:    gateway.NewRawData([]byte(`{"session_id":"abc","user":{"id":"508391840525975553"}}`), gateway.JSONCodec{}),
	}))
	require.NoError(t, f.Forward(dispatch("MESSAGE_CREATE", `{"content":"hi"}`)))

	pushes := pusher.recorded()
	require.Len(t, pushes, 1)
	assert.Equal(t, DefaultKey, pushes[0].key)
	assert.Equal(t, int64(1000), pushes[0].max)

	ev := pushes[0].event
	assert.Equal(t, 3, ev.ShardId)
	assert.Equal(t, "MESSAGE_CREATE", ev.EventType)
	assert.Equal(t, uint64(508391840525975553), ev.BotId)
	assert.Equal(t, "token", ev.BotToken)
	assert.False(t, ev.IsWhitelabel)
	assert.JSONEq(t, `{"content":"hi"}`, string(ev.Data))
	assert.False(t, ev.Extra.IsJoin)
}

func TestGuildCreateJoinFlag(t *testing.T) {
	pusher := &fakePusher{}
	f := NewForwarder(pusher, Options{Key: "events", IsWhitelabel: true})

	// a guild from READY
	require.NoError(t, f.Forward(gateway.GuildLoadedEvent{
		ShardId: 0,
		GuildId: "1",
		Data:    gateway.NewRawData([]byte(`{"id":"1"}`), gateway.JSONCodec{}),
	}))

	// a guild the bot was just added to
	require.NoError(t, f.Forward(guildCreate(time.Now().Add(-5*time.Second))))

	pushes := pusher.recorded()
	require.Len(t, pushes, 2)

	loaded, joined := pushes[0].event, pushes[1].event
	assert.Equal(t, "GUILD_CREATE", loaded.EventType)
	assert.False(t, loaded.Extra.IsJoin)
	assert.Equal(t, "GUILD_CREATE", joined.EventType)
	assert.True(t, joined.Extra.IsJoin)
	assert.True(t, joined.IsWhitelabel)
	assert.Equal(t, "events", pushes[1].key)
}

func TestGuildCreateAfterOutageIsNotJoin(t *testing.T) {
	pusher := &fakePusher{}
	f := NewForwarder(pusher, Options{})

	joinedAt := time.Date(2019, time.May, 5, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.Forward(guildCreate(joinedAt)))
	require.NoError(t, f.Forward(dispatch("GUILD_CREATE", `{"id":"3"}`)))

	pushes := pusher.recorded()
	require.Len(t, pushes, 2)
	assert.False(t, pushes[0].event.Extra.IsJoin)
	assert.False(t, pushes[1].event.Extra.IsJoin)
}

func TestJoinWindow(t *testing.T) {
	f := NewForwarder(&fakePusher{}, Options{})
	joinedAt := time.Date(2020, time.June, 1, 12, 0, 0, 0, time.UTC)

	for offset, isJoin := range map[time.Duration]bool{
		0:                 true,
		59 * time.Second:  true,
		time.Minute:       false,
		24 * time.Hour:    false,
	} {
		ev, ok, err := f.translate(guildCreate(joinedAt), joinedAt.Add(offset))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, isJoin, ev.Extra.IsJoin, offset.String())
	}
}

func TestBreakerOpensOnFailures(t *testing.T) {
	pusher := &fakePusher{err: errors.New("connection refused")}
	f := NewForwarder(pusher, Options{
		FailureThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	})

	ev := dispatch("MESSAGE_CREATE", `{}`)
	assert.EqualError(t, f.Forward(ev), "connection refused")
	assert.EqualError(t, f.Forward(ev), "connection refused")
	assert.ErrorIs(t, f.Forward(ev), gobreaker.ErrOpenState)

	pusher.setErr(nil)
	time.Sleep(60 * time.Millisecond)

	// half open: a trial push closes the breaker again
	require.NoError(t, f.Forward(ev))
	require.NoError(t, f.Forward(ev))
	assert.Len(t, pusher.recorded(), 2)
}

func TestRunDrainsChannel(t *testing.T) {
	pusher := &fakePusher{}
	f := NewForwarder(pusher, Options{})

	events := make(chan gateway.Event, 4)
	events <- dispatch("MESSAGE_CREATE", `{}`)
	events <- gateway.DebugEvent{ShardId: 3, Message: "ignored"}
	events <- dispatch("CHANNEL_CREATE", `{}`)
	close(events)

	f.Run(events)
	assert.Len(t, pusher.recorded(), 2)
}
