package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
)

const (
	writeTimeout = 10 * time.Second
	storeTimeout = 5 * time.Second
	readLimit    = 4294967296

	// any code other than 1000 and 1001 keeps the session resumable
	closeResumable websocket.StatusCode = 4000
)

var errForcedClose = errors.New("connection closed by client")

type Shard struct {
	ShardManager *ShardManager
	Options      ShardOptions
	Token        string
	ShardId      int

	state     State
	stateLock sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}

	webSocket *websocket.Conn
	connLock  sync.RWMutex

	codec   Codec
	session ShardSession

	ready      chan struct{}
	readyOnce  sync.Once
	terminated chan struct{}
	fatal      *FatalError
}

// connection holds what belongs to a single socket. Timers live here so a new connection
// can never inherit a heartbeat aimed at a stale socket.
type connection struct {
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	forced     bool
	heartbeat  *time.Ticker
	retry      *time.Timer
}

func NewShard(shardManager *ShardManager, token string, shardId int, options ShardOptions) *Shard {
	return &Shard{
		ShardManager: shardManager,
		Options:      options,
		Token:        token,
		ShardId:      shardId,
		state:        StateDisconnected,
		codec:        ProcessCodec(),
		session:      newShardSession(shardId, options.ShardCount.Total),
		ready:        make(chan struct{}),
		terminated:   make(chan struct{}),
	}
}

// Connect starts the shard's event loop and returns immediately. The loop keeps the shard
// connected until Kill is called or the gateway closes it with an unrecoverable code.
func (s *Shard) Connect(ctx context.Context) error {
	s.stateLock.Lock()
	if s.state == StateTerminated {
		s.stateLock.Unlock()
		return ErrTerminated
	}

	if s.done != nil {
		s.stateLock.Unlock()
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.state = StateConnecting
	s.stateLock.Unlock()

	s.restoreSession(ctx)

	go s.run(ctx, done)
	return nil
}

// WaitReady blocks until the shard received its first READY (or RESUMED).
func (s *Shard) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.terminated:
		return s.fatal
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kill stops the event loop and waits for it to exit. The session is kept, so a later
// Connect resumes.
func (s *Shard) Kill() error {
	logrus.Infof("killing shard %d", s.ShardId)

	s.stateLock.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.stateLock.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	logrus.Infof("killed shard %d", s.ShardId)
	return nil
}

func (s *Shard) State() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

func (s *Shard) setState(state State) {
	s.stateLock.Lock()
	if s.state != StateTerminated {
		s.state = state
	}
	s.stateLock.Unlock()
}

func (s *Shard) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		s.setState(StateConnecting)
		err := s.connect(ctx)

		if ctx.Err() != nil {
			s.session.reconnecting = true
			s.saveSession()
			s.setState(StateDisconnected)
			return
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			s.terminate(fatal)
			return
		}

		logrus.Warnf("shard %d: connection lost: %s", s.ShardId, err)
		s.session.reconnecting = true
		s.setState(StateReconnecting)

		var dialErr *dialError
		if errors.As(err, &dialErr) {
			select {
			case <-time.After(s.Options.ReconnectDelay):
			case <-ctx.Done():
			}
		}
	}
}

func (s *Shard) connect(ctx context.Context) error {
	logrus.Infof("shard %d: Starting", s.ShardId)

	headers := http.Header{}
	if s.Options.Compress {
		headers.Add("accept-encoding", "zlib")
	}

	conn, _, err := websocket.Dial(ctx, s.gatewayURL(), &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		s.emit(ErrorEvent{ShardId: s.ShardId, Err: err})
		return &dialError{err: err}
	}

	conn.SetReadLimit(readLimit)

	readCtx, cancelRead := context.WithCancel(ctx)
	c := &connection{
		conn:       conn,
		cancelRead: cancelRead,
	}

	s.setWebSocket(conn)
	defer func() {
		s.setWebSocket(nil)
		c.stopTimers()
		cancelRead()
		conn.Close(closeResumable, "reconnecting")
	}()

	s.setState(StateAwaitingHello)
	s.debug("connection opened")

	frames := make(chan Frame)
	readErr := make(chan error, 1)
	go s.readLoop(readCtx, conn, frames, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if c.forced {
				return errForcedClose
			}

			return s.classifyClose(err)
		case frame := <-frames:
			if err := s.handleFrame(ctx, c, frame); err != nil {
				logrus.Warnf("shard %d: error whilst handling %s: %s", s.ShardId, frame.Opcode, err)
				s.emit(ErrorEvent{ShardId: s.ShardId, Err: err})
			}
		case <-c.heartbeatC():
			s.heartbeatTick(ctx, c)
		case <-c.retryC():
			c.retry = nil
			if err := s.handshake(ctx, c); err != nil {
				logrus.Warnf("shard %d: error whilst retrying handshake: %s", s.ShardId, err)
			}
		}
	}
}

func (s *Shard) readLoop(ctx context.Context, conn *websocket.Conn, frames chan<- Frame, readErr chan<- error) {
	deliver := func(frame Frame) bool {
		select {
		case frames <- frame:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if s.Options.Compress {
		stream := newZlibStream()
		go func() {
			err := stream.Decode(s.codec, deliver)
			if err == nil {
				err = ctx.Err()
			}
			stream.CloseWithError(err)
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				stream.CloseWithError(err)
				readErr <- err
				return
			}

			if err := stream.Feed(data); err != nil {
				readErr <- err
				return
			}
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}

		frame, err := s.codec.DecodeFrame(data)
		if err != nil {
			logrus.Warnf("shard %d: error whilst decoding payload: %s", s.ShardId, err)
			continue
		}

		if !deliver(frame) {
			readErr <- ctx.Err()
			return
		}
	}
}

// classifyClose decides whether a read error ends the shard for good.
func (s *Shard) classifyClose(err error) error {
	code := int(websocket.CloseStatus(err))
	if code == -1 {
		logrus.Warnf("shard %d: error whilst reading payload: %s", s.ShardId, err)
		s.emit(ErrorEvent{ShardId: s.ShardId, Err: err})
		return err
	}

	var closeErr websocket.CloseError
	errors.As(err, &closeErr)

	s.debug(fmt.Sprintf("websocket closed, code: %d message: %s", code, closeErr.Reason))

	if s.Options.FatalCloseCodes[code] {
		return &FatalError{
			ShardId: s.ShardId,
			Code:    code,
			Reason:  closeErr.Reason,
			Err:     closeError(code),
		}
	}

	return fmt.Errorf("websocket closed with code %d: %w", code, closeError(code))
}

func (s *Shard) handleFrame(ctx context.Context, c *connection, frame Frame) error {
	if frame.Sequence != nil {
		s.session.setSequence(*frame.Sequence)
	}

	switch frame.Opcode {
	case OpDispatch:
		return s.handleDispatch(frame)
	case OpHeartbeat:
		return s.sendHeartbeat(ctx, c)
	case OpReconnect:
		logrus.Infof("shard %d: received reconnect payload", s.ShardId)
		c.forceClose()
	case OpInvalidSession:
		var resumable bool
		if err := s.codec.Unmarshal(frame.Data, &resumable); err != nil {
			return err
		}

		s.debug((&SessionError{ShardId: s.ShardId, Resumable: resumable}).Error())

		if resumable {
			c.stopRetry()
			c.retry = time.NewTimer(s.Options.InvalidDelay)
			return nil
		}

		s.session.reset()
		s.session.reconnecting = false
		s.deleteSession()
		return s.identify(ctx, c)
	case OpHello:
		var hello HelloData
		if err := s.codec.Unmarshal(frame.Data, &hello); err != nil {
			return err
		}

		s.debug(fmt.Sprintf("hello received, starting to heartbeat at %dms", hello.HeartbeatInterval))

		s.session.heartbeatInterval = hello.HeartbeatInterval
		s.session.pendingHeartbeatAck = false
		c.startHeartbeat(time.Duration(hello.HeartbeatInterval) * time.Millisecond)

		return s.handshake(ctx, c)
	case OpHeartbeatAck:
		s.session.pendingHeartbeatAck = false
	default:
		s.debug(fmt.Sprintf("unhandled opcode %d", frame.Opcode))
	}

	return nil
}

func (s *Shard) handleDispatch(frame Frame) error {
	if listener, ok := dispatchListeners[frame.Type]; ok {
		handled, err := listener(s, frame)
		if err != nil || handled {
			return err
		}
	}

	var sequence int64
	if frame.Sequence != nil {
		sequence = *frame.Sequence
	}

	s.emit(DispatchEvent{
		ShardId:  s.ShardId,
		Name:     frame.Type,
		Sequence: sequence,
		Data:     s.raw(frame.Data),
	})

	return nil
}

// heartbeatTick runs on every heartbeat interval. An ack still pending from the previous
// tick means the connection is dead.
func (s *Shard) heartbeatTick(ctx context.Context, c *connection) {
	if s.session.pendingHeartbeatAck {
		logrus.Warnf("shard %d: heartbeat was not acknowledged, closing connection", s.ShardId)
		c.stopHeartbeat()
		c.forceClose()
		return
	}

	if err := s.sendHeartbeat(ctx, c); err != nil {
		logrus.Warnf("shard %d: error whilst sending heartbeat: %s", s.ShardId, err)
		return
	}

	s.saveSessionAsync()
}

func (s *Shard) sendHeartbeat(ctx context.Context, c *connection) error {
	if err := s.write(ctx, c.conn, OpHeartbeat, s.session.sequence); err != nil {
		return err
	}

	s.session.pendingHeartbeatAck = true
	s.debug("sent heartbeat")
	return nil
}

func (s *Shard) handshake(ctx context.Context, c *connection) error {
	if s.session.canResume() {
		return s.resume(ctx, c)
	}

	return s.identify(ctx, c)
}

func (s *Shard) identify(ctx context.Context, c *connection) error {
	s.setState(StateIdentifying)
	s.debug("attempting to identify")

	identify := IdentifyData{
		Token:          s.Token,
		Properties:     s.Options.Properties,
		LargeThreshold: s.Options.LargeThreshold,
		Shard:          [2]int{s.ShardId, s.Options.ShardCount.Total},
		Intents:        s.Options.intentsBitmask(),
	}

	if s.Options.Presence != nil {
		presence := s.Options.Presence.withDefaults()
		identify.Presence = &presence
	}

	if err := s.write(ctx, c.conn, OpIdentify, identify); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	return nil
}

func (s *Shard) resume(ctx context.Context, c *connection) error {
	s.setState(StateResuming)
	logrus.Infof("shard %d: Resuming", s.ShardId)

	resume := ResumeData{
		Token:     s.Token,
		SessionId: s.session.sessionId,
		Sequence:  s.session.sequence,
	}

	if err := s.write(ctx, c.conn, OpResume, resume); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	return nil
}

// UpdatePresence sends a presence update over the current connection.
// UpdatePresence sends a presence update. The gateway closes sockets that send one before
// the handshake completes, so it is only written once the shard is READY.
func (s *Shard) UpdatePresence(ctx context.Context, presence Presence) error {
	conn := s.getWebSocket()
	if conn == nil || s.State() != StateReady {
		return ErrNotConnected
	}

	s.debug("changing status")
	return s.write(ctx, conn, OpPresenceUpdate, presence.withDefaults())
}

func (s *Shard) write(ctx context.Context, conn *websocket.Conn, opcode Opcode, data interface{}) error {
	if conn == nil {
		return ErrNotConnected
	}

	encoded, err := s.codec.Marshal(outboundFrame{
		Opcode: opcode,
		Data:   data,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return conn.Write(ctx, s.codec.MessageType(), encoded)
}

func (s *Shard) terminate(fatal *FatalError) {
	logrus.Errorf("shard %d: %s", s.ShardId, fatal)

	s.stateLock.Lock()
	s.state = StateTerminated
	s.fatal = fatal
	s.stateLock.Unlock()
	close(s.terminated)

	s.emit(FatalEvent{ShardId: s.ShardId, Err: fatal})

	s.session.reset()
	s.deleteSession()

	s.ShardManager.onFatalError(s, fatal)
}

func (s *Shard) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

func (s *Shard) gatewayURL() string {
	u, err := url.Parse(s.Options.GatewayURL)
	if err != nil {
		return s.Options.GatewayURL
	}

	query := u.Query()
	query.Set("v", strconv.Itoa(s.Options.GatewayVersion))
	query.Set("encoding", s.codec.Name())
	if s.Options.Compress {
		query.Set("compress", "zlib-stream")
	}
	u.RawQuery = query.Encode()

	return u.String()
}

func (s *Shard) getWebSocket() *websocket.Conn {
	s.connLock.RLock()
	defer s.connLock.RUnlock()
	return s.webSocket
}

func (s *Shard) setWebSocket(conn *websocket.Conn) {
	s.connLock.Lock()
	s.webSocket = conn
	s.connLock.Unlock()
}

func (s *Shard) emit(ev Event) {
	s.ShardManager.events.push(ev)
}

func (s *Shard) debug(message string) {
	logrus.Debugf("shard %d: %s", s.ShardId, message)

	if s.Options.Debug {
		s.emit(DebugEvent{ShardId: s.ShardId, Message: message})
	}
}

func (s *Shard) raw(data []byte) RawData {
	return RawData{Bytes: data, codec: s.codec}
}

func (s *Shard) restoreSession(ctx context.Context) {
	store := s.Options.SessionStore
	if store == nil || s.session.reconnecting {
		return
	}

	snapshot, ok, err := store.Load(ctx, s.ShardId)
	if err != nil {
		logrus.Warnf("shard %d: error whilst loading session: %s", s.ShardId, err)
		return
	}

	if ok {
		s.session.restore(snapshot)
	}
}

func (s *Shard) saveSession() {
	store := s.Options.SessionStore
	if store == nil || s.session.sessionId == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := store.Save(ctx, s.session.snapshot()); err != nil {
		logrus.Warnf("shard %d: error whilst saving session: %s", s.ShardId, err)
	}
}

func (s *Shard) saveSessionAsync() {
	store := s.Options.SessionStore
	if store == nil || s.session.sessionId == "" {
		return
	}

	snapshot := s.session.snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		if err := store.Save(ctx, snapshot); err != nil {
			logrus.Warnf("shard %d: error whilst saving session: %s", s.ShardId, err)
		}
	}()
}

func (s *Shard) deleteSession() {
	store := s.Options.SessionStore
	if store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := store.Delete(ctx, s.ShardId); err != nil {
		logrus.Warnf("shard %d: error whilst deleting session: %s", s.ShardId, err)
	}
}

func (c *connection) startHeartbeat(interval time.Duration) {
	c.stopHeartbeat()
	if interval <= 0 {
		return
	}

	c.heartbeat = time.NewTicker(interval)
}

func (c *connection) stopHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

func (c *connection) stopRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *connection) stopTimers() {
	c.stopHeartbeat()
	c.stopRetry()
}

func (c *connection) heartbeatC() <-chan time.Time {
	if c.heartbeat == nil {
		return nil
	}

	return c.heartbeat.C
}

func (c *connection) retryC() <-chan time.Time {
	if c.retry == nil {
		return nil
	}

	return c.retry.C
}

// forceClose drops the socket without a close handshake; the read loop then fails and the
// shard reconnects with a resume.
func (c *connection) forceClose() {
	c.forced = true
	c.cancelRead()
}
