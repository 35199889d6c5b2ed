package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tatsuworks/czlib"
	"nhooyr.io/websocket"
)

type clientFrame struct {
	Opcode Opcode          `json:"op"`
	Data   json.RawMessage `json:"d"`
}

type fakeConn struct {
	conn     *websocket.Conn
	query    url.Values
	received chan clientFrame
	closed   chan struct{}

	// set when the gateway speaks zlib-stream; every frame is sync-flushed through one context
	deflated *bytes.Buffer
	deflater *czlib.Writer
}

type fakeGateway struct {
	server   *httptest.Server
	conns    chan *fakeConn
	compress bool
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return startFakeGateway(t, false)
}

func newCompressedFakeGateway(t *testing.T) *fakeGateway {
	return startFakeGateway(t, true)
}

func startFakeGateway(t *testing.T, compress bool) *fakeGateway {
	g := &fakeGateway{
		conns:    make(chan *fakeConn, 16),
		compress: compress,
	}

	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		fc := &fakeConn{
			conn:     conn,
			query:    r.URL.Query(),
			received: make(chan clientFrame, 64),
			closed:   make(chan struct{}),
		}
		if g.compress {
			fc.deflated = &bytes.Buffer{}
			fc.deflater = czlib.NewWriter(fc.deflated)
		}
		g.conns <- fc

		defer close(fc.closed)
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}

			var frame clientFrame
			if err := json.Unmarshal(data, &frame); err == nil {
				fc.received <- frame
			}
		}
	}))

	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) accept(t *testing.T) *fakeConn {
	t.Helper()

	select {
	case conn := <-g.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func (g *fakeGateway) options(total int) ShardOptions {
	return ShardOptions{
		ShardCount:      ShardCount{Total: total},
		GatewayURL:      g.server.URL,
		IdentifySpacing: 100 * time.Millisecond,
		InvalidDelay:    50 * time.Millisecond,
		ReconnectDelay:  10 * time.Millisecond,
	}
}

func (c *fakeConn) send(t *testing.T, op Opcode, seq *int64, eventType string, data interface{}) {
	t.Helper()

	payload := map[string]interface{}{
		"op": op,
		"d":  data,
		"s":  seq,
	}
	if eventType != "" {
		payload["t"] = eventType
	}

	encoded, err := json.Marshal(payload)
	require.NoError(t, err)

	messageType := websocket.MessageText
	if c.deflater != nil {
		_, err = c.deflater.Write(encoded)
		require.NoError(t, err)
		require.NoError(t, c.deflater.Flush())

		encoded = append([]byte(nil), c.deflated.Bytes()...)
		c.deflated.Reset()
		messageType = websocket.MessageBinary
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, messageType, encoded))
}

func (c *fakeConn) hello(t *testing.T, interval int) {
	c.send(t, OpHello, nil, "", HelloData{HeartbeatInterval: interval})
}

func (c *fakeConn) dispatch(t *testing.T, seq int64, eventType string, data interface{}) {
	c.send(t, OpDispatch, &seq, eventType, data)
}

func (c *fakeConn) ready(t *testing.T, seq int64, sessionId string, guildIds ...string) {
	guilds := make([]UnavailableGuild, len(guildIds))
	for i, id := range guildIds {
		guilds[i] = UnavailableGuild{Id: id, Unavailable: true}
	}

	c.dispatch(t, seq, "READY", ReadyData{SessionId: sessionId, Guilds: guilds})
}

// expect waits for the next client frame with the given opcode, skipping any others.
func (c *fakeConn) expect(t *testing.T, op Opcode, timeout time.Duration) clientFrame {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case frame := <-c.received:
			if frame.Opcode == op {
				return frame
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", op)
			return clientFrame{}
		}
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

// nextEventOf skips events until one of the same type as want arrives.
func nextEventOf[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func int64Ptr(i int64) *int64 {
	return &i
}

// testContext is cancelled when the test finishes, releasing any pending Connect.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
