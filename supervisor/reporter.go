package supervisor

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/TicketsBot/shardkit/gateway"
	"github.com/sirupsen/logrus"
)

// Reporter is the worker side of the message stream: it writes Messages to the worker's
// stdout for the supervisor to read.
type Reporter struct {
	mu      sync.Mutex
	encoder *json.Encoder

	// Dispatches selects the dispatch event names relayed as MessageEvent. "*" relays
	// every dispatch. Lifecycle events are always relayed.
	Dispatches map[string]bool
}

func NewReporter(w io.Writer, dispatches ...string) *Reporter {
	r := &Reporter{
		encoder:    json.NewEncoder(w),
		Dispatches: make(map[string]bool),
	}

	for _, name := range dispatches {
		r.Dispatches[name] = true
	}

	return r
}

func (r *Reporter) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.encoder.Encode(msg)
}

// Report translates a gateway event into a message. Events with no message form are
// ignored.
func (r *Reporter) Report(ev gateway.Event) error {
	msg, ok, err := r.translate(ev)
	if err != nil || !ok {
		return err
	}

	return r.Send(msg)
}

func (r *Reporter) translate(ev gateway.Event) (Message, bool, error) {
	msg := Message{ShardId: ev.Shard()}

	switch ev := ev.(type) {
	case gateway.ReadyEvent:
		msg.Type = MessageReady
	case gateway.ResumedEvent:
		msg.Type = MessageResumed
	case gateway.AllGuildsLoadedEvent:
		msg.Type = MessageAllGuildsLoaded
	case gateway.FatalEvent:
		msg.Type = MessageFatal
		if ev.Err != nil {
			msg.Error = ev.Err.Error()
		}
	case gateway.DispatchEvent:
		if !r.Dispatches["*"] && !r.Dispatches[ev.Name] {
			return msg, false, nil
		}

		data, err := ev.Data.JSON()
		if err != nil {
			return msg, false, err
		}

		msg.Type = MessageEvent
		msg.Event = ev.Name
		msg.Data = data
	default:
		return msg, false, nil
	}

	return msg, true, nil
}

// Forward reports every event read from events until the channel is closed.
func (r *Reporter) Forward(events <-chan gateway.Event) {
	for ev := range events {
		r.Handle(ev)
	}
}

// Handle reports the event. Failed reports are logged and dropped.
func (r *Reporter) Handle(ev gateway.Event) {
	if err := r.Report(ev); err != nil {
		logrus.Warnf("shard %d: reporting event: %s", ev.Shard(), err.Error())
	}
}
