package eventman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/eventman/eventman-live/eventman/internal"
)

const notConnectedMessage = "Not connected to server."

// Transport is the part of Client that rooms, chat and Q&A depend on.
type Transport interface {
	EmitWithAck(ctx context.Context, event string, payload any) (Ack, error)
	Emit(event string, payload any) error
	On(event string, h Handler) Subscription
	OnStateChange(fn func(StateEvent)) Subscription
	Off(sub Subscription)
}

// Client owns the single realtime connection of an authenticated session and
// multiplexes every room over it.
//
// Broadcast listeners run on the connection's read goroutine: they must not
// wait for an acknowledgement themselves.
type Client struct {
	cfg        Config
	logger     Logger
	metrics    *Metrics
	httpClient *http.Client
	dispatcher Dispatcher

	mu         sync.Mutex
	state      ConnectionState
	tokenFn    func() string
	session    context.Context // from Connect until Disconnect or failure
	endSession context.CancelFunc
	link       *link
	retries    int
	pending    map[string]chan Ack
}

// link is one physical connection. A reconnect replaces it.
type link struct {
	conn    *internal.Conn
	writeCh chan Inbound
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ Transport = (*Client)(nil)

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:     cfg,
		logger:  noopLogger{},
		pending: make(map[string]chan Ack),
	}
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
	c.dispatcher.SetLogger(l)
}

// SetMetrics attaches metrics (optional).
func (c *Client) SetMetrics(m *Metrics) {
	c.metrics = m
	m.SetState(c.State())
}

// SetHTTPClient sets the client used for the websocket upgrade request.
func (c *Client) SetHTTPClient(hc *http.Client) { c.httpClient = hc }

// SetTokenSource makes Connect read the credential from fn instead of
// Config.Token. fn is called synchronously on every dial.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	c.tokenFn = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Retries returns the reconnect attempt in progress, 0 when connected.
func (c *Client) Retries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// On registers a listener for a named broadcast.
func (c *Client) On(event string, h Handler) Subscription { return c.dispatcher.On(event, h) }

// OnStateChange registers a listener for connection state changes.
func (c *Client) OnStateChange(fn func(StateEvent)) Subscription {
	return c.dispatcher.OnStateChange(fn)
}

// OnError registers a listener for transport and protocol errors.
func (c *Client) OnError(fn func(error)) Subscription { return c.dispatcher.OnError(fn) }

// Off removes a listener.
func (c *Client) Off(sub Subscription) { c.dispatcher.Off(sub) }

// Connect dials the server with the current credential and starts the
// connection loops. It is a no-op when already connected or connecting, and
// when no credential is available (logged, not returned).
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("connect skipped", map[string]any{"state": state.String()})
		return nil
	}
	c.mu.Unlock()

	token := c.token()
	if token == "" {
		c.logger.Error("cannot connect without authentication token", nil)
		return nil
	}

	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	session, end := context.WithCancel(context.Background())
	c.session, c.endSession = session, end
	c.retries = 0
	ev := c.setStateLocked(StateConnecting, nil, 0)
	c.mu.Unlock()
	c.emitState(ev)

	c.logger.Info("connecting", map[string]any{"url": c.cfg.URL})
	conn, err := c.dial(ctx, token)
	if err != nil {
		c.mu.Lock()
		if c.session != session {
			c.mu.Unlock()
			return err
		}
		c.endSessionLocked()
		next := StateDisconnected
		if IsAuthError(err) {
			next = StateFailed
		}
		ev := c.setStateLocked(next, err, 0)
		c.mu.Unlock()
		c.emitState(ev)
		c.logger.Error("connect failed", map[string]any{"error": err.Error()})
		c.dispatcher.DispatchError(err)
		return err
	}

	if !c.attach(session, conn, StateConnecting) {
		_ = conn.Abort()
		return NewError(ErrorDisconnected, "disconnected while connecting")
	}
	c.logger.Info("connected", map[string]any{"url": c.cfg.URL})
	return nil
}

// Disconnect tears down the connection, fails pending acknowledgements and
// removes every registered listener.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.endSessionLocked()
	pending := c.takePendingLocked()
	c.retries = 0
	ev := c.setStateLocked(StateDisconnected, nil, 0)
	c.mu.Unlock()

	var err error
	if l != nil {
		err = l.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		l.cancel()
	}
	failPending(pending)
	c.emitState(ev)
	c.dispatcher.Clear()
	if ev != nil {
		c.logger.Info("disconnected", nil)
	}
	return err
}

// EmitWithAck sends a request and waits for the server's acknowledgement.
// It fails fast with ErrorNotConnected while not connected (including while
// reconnecting) and with ErrorTimeout after Config.AckTimeout. On failure the
// returned Ack has Success false and a message suitable for display.
func (c *Client) EmitWithAck(ctx context.Context, event string, payload any) (Ack, error) {
	start := time.Now()
	data, err := encode(payload)
	if err != nil {
		c.metrics.ObserveAck(event, "error", 0)
		return Ack{Message: err.Error()}, err
	}

	id := uuid.NewString()
	reply := make(chan Ack, 1)

	c.mu.Lock()
	l := c.link
	if c.state != StateConnected || l == nil {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("cannot emit, not connected", map[string]any{"event": event, "state": state.String()})
		c.metrics.ObserveAck(event, "error", 0)
		return Ack{Message: notConnectedMessage}, NewError(ErrorNotConnected, notConnectedMessage)
	}
	c.pending[id] = reply
	c.mu.Unlock()

	if c.cfg.AckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AckTimeout)
		defer cancel()
	}

	c.logger.Debug("emitting", map[string]any{"event": event, "id": id})
	select {
	case l.writeCh <- Inbound{Type: frameReq, ID: id, Event: event, Data: data}:
	case <-ctx.Done():
		c.forget(id)
		return c.ackFailed(event, ackContextError(event, ctx))
	case <-l.ctx.Done():
		c.forget(id)
		return c.ackFailed(event, NewError(ErrorDisconnected, "connection closed before send"))
	}

	select {
	case ack, ok := <-reply:
		if !ok {
			return c.ackFailed(event, NewError(ErrorDisconnected, "connection lost before acknowledgement"))
		}
		outcome := "success"
		if !ack.Success {
			outcome = "rejected"
		}
		c.metrics.ObserveAck(event, outcome, time.Since(start))
		c.logger.Debug("ack received", map[string]any{"event": event, "id": id, "success": ack.Success})
		return ack, nil
	case <-ctx.Done():
		c.forget(id)
		return c.ackFailed(event, ackContextError(event, ctx))
	}
}

// Emit sends a fire-and-forget message. It never blocks: a full send buffer
// is reported as an error.
func (c *Client) Emit(event string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	l := c.link
	connected := c.state == StateConnected && l != nil
	c.mu.Unlock()
	if !connected {
		return NewError(ErrorNotConnected, notConnectedMessage)
	}

	select {
	case l.writeCh <- Inbound{Type: frameEmit, Event: event, Data: data}:
		return nil
	case <-l.ctx.Done():
		return NewError(ErrorDisconnected, "connection closed")
	default:
		return NewError(ErrorConnection, "send buffer full")
	}
}

func (c *Client) ackFailed(event string, err error) (Ack, error) {
	c.metrics.ObserveAck(event, "error", 0)
	c.logger.Warn("acknowledged request failed", map[string]any{"event": event, "error": err.Error()})
	return Ack{Message: err.Error()}, err
}

func ackContextError(event string, ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return WrapError(ErrorTimeout, "no acknowledgement for "+event, ctx.Err())
	}
	return ctx.Err()
}

func encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(ErrorSerialization, "failed to marshal payload", err)
	}
	return data, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	fn := c.tokenFn
	c.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return c.cfg.Token
}

func (c *Client) dial(ctx context.Context, token string) (*internal.Conn, error) {
	conn, err := internal.Dial(ctx, c.cfg.URL, internal.DialOptions{
		Token:            token,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		ReadTimeout:      c.cfg.ReadTimeout,
		WriteTimeout:     c.cfg.WriteTimeout,
		HTTPClient:       c.httpClient,
	})
	if err != nil {
		if errors.Is(err, internal.ErrHandshakeRejected) {
			return nil, WrapError(ErrorUnauthorized, "authentication failed", err)
		}
		return nil, WrapError(ErrorConnection, "dial failed", err)
	}

	hello := Inbound{
		Type: frameHello,
		Data: HelloPayload{
			Protocol: ProtocolVersion,
			Token:    token,
		},
	}
	if err := conn.Write(ctx, hello); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return nil, WrapError(ErrorConnection, "handshake failed", err)
	}
	return conn, nil
}

// attach installs conn as the current link if the session is still the one
// that dialed it and the client is still in the expected state.
func (c *Client) attach(session context.Context, conn *internal.Conn, expect ConnectionState) bool {
	c.mu.Lock()
	if c.session != session || c.state != expect {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(session)
	l := &link{
		conn:    conn,
		writeCh: make(chan Inbound, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	c.link = l
	c.retries = 0
	ev := c.setStateLocked(StateConnected, nil, 0)
	c.mu.Unlock()

	go c.readLoop(l)
	go c.writeLoop(l)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(l)
	}
	c.emitState(ev)
	return true
}

func (c *Client) readLoop(l *link) {
	for {
		var out Outbound
		if err := l.conn.Read(l.ctx, &out); err != nil {
			if l.ctx.Err() != nil {
				return
			}
			c.handleDrop(l, err)
			return
		}
		c.handleFrame(l, out)
	}
}

func (c *Client) writeLoop(l *link) {
	for {
		select {
		case in := <-l.writeCh:
			if err := l.conn.Write(l.ctx, in); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				c.handleDrop(l, err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (c *Client) pingLoop(l *link) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			if err := l.conn.Ping(l.ctx, c.cfg.PingInterval); err != nil {
				if l.ctx.Err() != nil {
					return
				}
				c.handleDrop(l, WrapError(ErrorTimeout, "ping failed", err))
				return
			}
		}
	}
}

func (c *Client) handleFrame(l *link, out Outbound) {
	switch out.Type {
	case frameAck:
		c.resolve(out.ID, out.Data)
	case frameEvent:
		c.metrics.IncBroadcast(out.Event)
		if out.Event == EventSocketError {
			c.logger.Warn("server reported error", map[string]any{"error": DecodeSocketError(out.Data).Message})
		}
		c.dispatcher.Dispatch(out.Event, out.Data)
	case frameError:
		err := FromProtocolError(out.Error)
		if err == nil {
			err = NewError(ErrorUnknown, "empty error frame")
		}
		if err.Code == ErrorUnauthorized {
			c.fail(nil, l, err)
			return
		}
		c.logger.Warn("protocol error", map[string]any{"code": err.Code.String(), "error": err.Message})
		c.dispatcher.DispatchError(err)
	default:
		c.logger.Debug("ignoring unknown frame", map[string]any{"type": out.Type})
	}
}

// resolve completes the pending request id exactly once. Unknown ids belong
// to requests that already timed out and are dropped.
func (c *Client) resolve(id string, data json.RawMessage) {
	c.mu.Lock()
	reply, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("late acknowledgement dropped", map[string]any{"id": id})
		return
	}

	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		ack = Ack{Success: false, Message: "malformed acknowledgement"}
	}
	ack.Raw = data
	reply <- ack
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// handleDrop reacts to the loss of link l. A normal closure initiated by the
// server ends the session; anything else starts the reconnect loop.
func (c *Client) handleDrop(l *link, cause error) {
	c.mu.Lock()
	if c.link != l || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.link = nil
	l.cancel()
	pending := c.takePendingLocked()

	session := c.session
	next := StateReconnecting
	switch {
	case websocket.CloseStatus(cause) == websocket.StatusNormalClosure:
		next = StateDisconnected
		c.endSessionLocked()
	case c.cfg.ReconnectAttempts == 0:
		next = StateFailed
		c.endSessionLocked()
	}
	dropErr := WrapError(ErrorDisconnected, "connection lost", cause)
	ev := c.setStateLocked(next, dropErr, 0)
	c.mu.Unlock()

	_ = l.conn.Abort()
	failPending(pending)
	c.logger.Warn("connection lost", map[string]any{"error": cause.Error(), "next": next.String()})
	c.emitState(ev)

	switch next {
	case StateReconnecting:
		go c.reconnectLoop(session)
	case StateFailed:
		c.dispatcher.DispatchError(WrapError(ErrorReconnectFailed, "reconnect disabled", cause))
	}
}

func (c *Client) reconnectLoop(session context.Context) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		c.mu.Lock()
		if c.session != session || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.retries = attempt
		ev := c.setStateLocked(StateReconnecting, lastErr, attempt)
		c.mu.Unlock()
		c.emitState(ev)
		c.metrics.IncReconnect()

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-session.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		token := c.token()
		if token == "" {
			c.fail(session, nil, NewError(ErrorUnauthorized, "no authentication token"))
			return
		}
		conn, err := c.dial(session, token)
		if err == nil {
			if !c.attach(session, conn, StateReconnecting) {
				_ = conn.Abort()
				return
			}
			c.logger.Info("reconnected", map[string]any{"attempt": attempt})
			return
		}
		if IsAuthError(err) {
			c.fail(session, nil, err)
			return
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", map[string]any{"attempt": attempt, "error": err.Error()})
	}

	c.fail(session, nil, WrapError(ErrorReconnectFailed,
		fmt.Sprintf("gave up after %d attempts", c.cfg.ReconnectAttempts), lastErr))
}

// fail moves the client to StateFailed. It only applies while session (when
// non-nil) is still the active session and l (when non-nil) the current link.
func (c *Client) fail(session context.Context, l *link, err error) {
	c.mu.Lock()
	if (session != nil && c.session != session) || (l != nil && c.link != l) {
		c.mu.Unlock()
		return
	}
	cur := c.link
	c.link = nil
	c.endSessionLocked()
	pending := c.takePendingLocked()
	ev := c.setStateLocked(StateFailed, err, c.retries)
	c.mu.Unlock()

	if cur != nil {
		cur.cancel()
		_ = cur.conn.Abort()
	}
	failPending(pending)
	c.logger.Error("realtime connection failed", map[string]any{"error": err.Error()})
	c.emitState(ev)
	c.dispatcher.DispatchError(err)
}

func (c *Client) endSessionLocked() {
	if c.endSession != nil {
		c.endSession()
	}
	c.session, c.endSession = nil, nil
}

func (c *Client) takePendingLocked() map[string]chan Ack {
	out := c.pending
	c.pending = make(map[string]chan Ack)
	return out
}

func failPending(pending map[string]chan Ack) {
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) setStateLocked(next ConnectionState, err error, attempt int) *StateEvent {
	old := c.state
	if old == next && next != StateReconnecting {
		return nil
	}
	c.state = next
	c.metrics.SetState(next)
	return &StateEvent{OldState: old, NewState: next, Error: err, Attempt: attempt}
}

func (c *Client) emitState(ev *StateEvent) {
	if ev == nil {
		return
	}
	c.logger.Debug("state changed", map[string]any{"from": ev.OldState.String(), "to": ev.NewState.String()})
	c.dispatcher.DispatchState(*ev)
}
