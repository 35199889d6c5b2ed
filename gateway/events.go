package gateway

import (
	"encoding/json"
	"sync"
)

// Event is the closed set of values a ShardManager delivers on its event channel.
// Events from a single shard arrive in the order the shard produced them.
type Event interface {
	Shard() int
	isEvent()
}

// ReadyEvent is emitted when a shard receives READY.
type ReadyEvent struct {
	ShardId   int
	SessionId string
	Guilds    int
	Data      RawData
}

// ResumedEvent is emitted when the gateway confirms a resume.
type ResumedEvent struct {
	ShardId int
}

// GuildLoadedEvent is emitted for a GUILD_CREATE of a guild that was listed as unavailable in READY.
type GuildLoadedEvent struct {
	ShardId int
	GuildId string
	Data    RawData
}

// AllGuildsLoadedEvent is emitted once per session, after the last guild from READY arrived.
type AllGuildsLoadedEvent struct {
	ShardId int
}

// DispatchEvent is any other dispatch, forwarded verbatim.
type DispatchEvent struct {
	ShardId  int
	Name     string
	Sequence int64
	Data     RawData
}

type DebugEvent struct {
	ShardId int
	Message string
}

// ErrorEvent carries a transport-level error. It does not change shard state by itself.
type ErrorEvent struct {
	ShardId int
	Err     error
}

type FatalEvent struct {
	ShardId int
	Err     *FatalError
}

func (e ReadyEvent) Shard() int           { return e.ShardId }
func (e ResumedEvent) Shard() int         { return e.ShardId }
func (e GuildLoadedEvent) Shard() int     { return e.ShardId }
func (e AllGuildsLoadedEvent) Shard() int { return e.ShardId }
func (e DispatchEvent) Shard() int        { return e.ShardId }
func (e DebugEvent) Shard() int           { return e.ShardId }
func (e ErrorEvent) Shard() int           { return e.ShardId }
func (e FatalEvent) Shard() int           { return e.ShardId }

func (ReadyEvent) isEvent()           {}
func (ResumedEvent) isEvent()         {}
func (GuildLoadedEvent) isEvent()     {}
func (AllGuildsLoadedEvent) isEvent() {}
func (DispatchEvent) isEvent()        {}
func (DebugEvent) isEvent()           {}
func (ErrorEvent) isEvent()           {}
func (FatalEvent) isEvent()           {}

// RawData is event data in the process encoding.
type RawData struct {
	Bytes []byte
	codec Codec
}

func NewRawData(data []byte, codec Codec) RawData {
	return RawData{Bytes: data, codec: codec}
}

func (d RawData) Unmarshal(v interface{}) error {
	codec := d.codec
	if codec == nil {
		codec = ProcessCodec()
	}

	return codec.Unmarshal(d.Bytes, v)
}

// JSON returns the data as JSON, transcoding when the process encoding is binary.
func (d RawData) JSON() (json.RawMessage, error) {
	if len(d.Bytes) == 0 {
		return nil, nil
	}

	codec := d.codec
	if codec == nil {
		codec = ProcessCodec()
	}

	if codec.Name() == "json" {
		return json.RawMessage(d.Bytes), nil
	}

	var decoded interface{}
	if err := codec.Unmarshal(d.Bytes, &decoded); err != nil {
		return nil, err
	}

	return json.Marshal(decoded)
}

// Middleware may replace an event or drop it by returning false.
type Middleware func(Event) (Event, bool)

// eventQueue decouples shards from the consumer: pushing never blocks, so a slow consumer
// cannot delay heartbeats. The buffer is unbounded.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
	done   chan struct{}

	middleware []Middleware
	out        chan Event
}

func newEventQueue(buffer int) *eventQueue {
	q := &eventQueue{
		out:  make(chan Event, buffer),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()
	return q
}

func (q *eventQueue) use(m Middleware) {
	q.mu.Lock()
	q.middleware = append(q.middleware, m)
	q.mu.Unlock()
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.items = append(q.items, ev)
	q.cond.Signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *eventQueue) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}

		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}

		ev := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		middleware := q.middleware
		q.mu.Unlock()

		keep := true
		for _, m := range middleware {
			if ev, keep = m(ev); !keep {
				break
			}
		}

		if keep && !q.send(ev) {
			return
		}
	}
}

// send blocks while the consumer keeps up. Once the queue is closed, events that do not fit
// the buffer are dropped rather than holding the goroutine forever.
func (q *eventQueue) send(ev Event) bool {
	select {
	case q.out <- ev:
		return true
	default:
	}

	select {
	case q.out <- ev:
		return true
	case <-q.done:
		return false
	}
}
