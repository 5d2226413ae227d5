package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"chat-client/internal/events"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

const wsRoutingKey = "ws_events.client"

// CredentialProvider supplies the bearer token for each connection attempt.
// An empty token with a nil error means the user is logged out.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context) (string, error)

func (f CredentialFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Handler receives the raw payload of an inbound event.
type Handler func(payload json.RawMessage)

// StateHandler receives connection state transitions.
type StateHandler func(state models.ConnectionState)

// Subscription identifies a registered handler for Off.
type Subscription struct {
	event string
	id    uint64
	state bool
}

type handlerEntry struct {
	id uint64
	fn Handler
}

type stateEntry struct {
	id uint64
	fn StateHandler
}

// Options configures the transport. Zero durations and factors fall back to
// DefaultOptions.
type Options struct {
	HandshakeTimeout time.Duration
	PingPeriod       time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	Jitter           float64
	// MaxAttempts bounds consecutive failed reconnects; 0 retries forever.
	MaxAttempts int
}

// DefaultOptions returns the production connection policy.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		PingPeriod:       25 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
		Multiplier:       2,
		Jitter:           0.5,
		MaxAttempts:      10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = d.PingPeriod
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.Multiplier < 1 {
		o.Multiplier = d.Multiplier
	}
	if o.Jitter <= 0 || o.Jitter >= 1 {
		o.Jitter = d.Jitter
	}
	return o
}

// Client owns the single realtime connection of a session. It reconnects with
// capped exponential backoff, stops for good on authentication failures and
// fans inbound events out to registered handlers.
type Client struct {
	endpoint string
	creds    CredentialProvider
	opts     Options
	dialer   *websocket.Dialer

	mu        sync.Mutex
	state     models.ConnectionState
	conn      *websocket.Conn
	info      ConnInfo
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
	nextID    uint64
	handlers  map[string][]handlerEntry
	stateSubs []stateEntry

	writeMu sync.Mutex
}

// NewClient builds a disconnected transport for the given ws:// or wss:// URL.
func NewClient(endpoint string, creds CredentialProvider, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		opts:     opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state:    models.StateDisconnected,
		handlers: make(map[string][]handlerEntry),
	}
}

// Connect starts connecting in the background. It is a no-op while a
// connection is live or being established.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.lastErr = nil
	c.mu.Unlock()

	c.setState(models.StateConnecting)
	go c.supervise(runCtx, done)
}

// Disconnect tears the connection down and waits until no handler can run
// anymore. It must not be called from inside an event handler.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done, c.conn = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.closeConn(conn, websocket.CloseNormalClosure, "client disconnect")
	}
	if done != nil {
		<-done
	}
	c.setState(models.StateDisconnected)
}

// Emit sends an event if connected. Events emitted while disconnected are
// dropped with a warning.
func (c *Client) Emit(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == models.StateConnected
	c.mu.Unlock()

	if conn == nil || !connected {
		log.Printf("ws: emit %s dropped: not connected", event)
		observability.IncWSEvent("dropped", event)
		return
	}

	data, err := json.Marshal(events.Frame{Event: event, Data: payload})
	if err != nil {
		log.Printf("ws: encode %s: %v", event, err)
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("websocket write error: %v", err)
		// the read loop sees the closed socket and schedules a reconnect
		conn.Close()
		return
	}
	observability.IncWSEvent("outbound", event)
}

// On registers handler for an inbound event name.
func (c *Client) On(event string, handler Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: c.nextID, fn: handler})
	return Subscription{event: event, id: c.nextID}
}

// OnStateChange registers a connection state listener.
func (c *Client) OnStateChange(handler StateHandler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.stateSubs = append(c.stateSubs, stateEntry{id: c.nextID, fn: handler})
	return Subscription{id: c.nextID, state: true}
}

// Off removes a handler registered with On or OnStateChange.
func (c *Client) Off(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub.state {
		for i, e := range c.stateSubs {
			if e.id == sub.id {
				c.stateSubs = append(c.stateSubs[:i:i], c.stateSubs[i+1:]...)
				return
			}
		}
		return
	}
	entries := c.handlers[sub.event]
	for i, e := range entries {
		if e.id == sub.id {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(c.handlers, sub.event)
		return
	}
	c.handlers[sub.event] = entries
}

func (c *Client) IsConnected() bool {
	return c.State() == models.StateConnected
}

func (c *Client) State() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that ended the most recent connection attempt.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		// no-op unless the caller's context ended the supervisor
		c.stop(done, models.StateDisconnected, ctx.Err())
	}()

	bo := c.newBackOff()
	attempt := 0
	for {
		attempt++
		conn, info, err := c.dial(ctx, attempt)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			if errors.Is(err, errNoCredentials) {
				log.Printf("ws: not connecting: %v", err)
				c.stop(done, models.StateDisconnected, err)
				return
			}
			c.dispatchLocal(events.InConnectError, events.ConnectError{Message: err.Error()})
			if isAuthFailure(err) {
				log.Printf("ws: connect rejected, giving up: %v", err)
				c.stop(done, models.StateAuthFailed, err)
				return
			}
			log.Printf("ws: connect attempt %d failed: %v", attempt, err)
			if !c.wait(ctx, done, bo, err) {
				return
			}
			continue
		}

		if !c.attach(done, conn, info) {
			conn.Close()
			return
		}
		bo.Reset()
		attempt = 0

		err = c.serve(ctx, conn, info)
		c.detach(done, conn)
		if ctx.Err() != nil {
			return
		}
		if isAuthFailure(err) {
			log.Printf("ws: session rejected by server, giving up: %v", err)
			c.publishWSEvent(info, "ws_auth_error", err.Error())
			c.stop(done, models.StateAuthFailed, err)
			return
		}

		log.Printf("ws: connection %s lost: %v", info.ConnID, err)
		c.publishWSEvent(info, "ws_disconnect", err.Error())
		c.setState(models.StateConnecting)
		c.dispatchLocal(events.InDisconnect, events.Disconnect{Reason: err.Error()})
		if !c.wait(ctx, done, bo, err) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context, attempt int) (*websocket.Conn, ConnInfo, error) {
	ctx, span := otel.Tracer("chat-client/ws").Start(ctx, "ws.connect")
	defer span.End()

	info := ConnInfo{
		ConnID:   newConnID(),
		Endpoint: c.endpoint,
		Attempt:  attempt,
		TraceID:  span.SpanContext().TraceID().String(),
	}

	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credentials")
		return nil, info, fmt.Errorf("obtain access token: %w", err)
	}
	if token == "" {
		return nil, info, errNoCredentials
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, info, fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dialCtx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial")
		if isAuthStatus(resp) {
			return nil, info, &authError{msg: "handshake rejected: " + resp.Status}
		}
		return nil, info, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	info.ConnectedAt = time.Now()
	return conn, info, nil
}

// attach publishes a fresh socket unless the supervisor was superseded.
func (c *Client) attach(done chan struct{}, conn *websocket.Conn, info ConnInfo) bool {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.info = info
	c.lastErr = nil
	c.mu.Unlock()

	log.Printf("ws: connected conn_id=%s endpoint=%s", info.ConnID, info.Endpoint)
	c.publishWSEvent(info, "ws_connect", "")
	c.setState(models.StateConnected)
	return true
}

func (c *Client) detach(done chan struct{}, conn *websocket.Conn) {
	c.mu.Lock()
	if c.done == done && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// stop ends the supervisor with a terminal state.
func (c *Client) stop(done chan struct{}, state models.ConnectionState, err error) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel, c.done, c.conn = nil, nil, nil
	c.lastErr = err
	c.mu.Unlock()
	c.setState(state)
}

// wait sleeps for the next backoff delay. It returns false when the
// supervisor should exit.
func (c *Client) wait(ctx context.Context, done chan struct{}, bo backoff.BackOff, cause error) bool {
	c.mu.Lock()
	c.lastErr = cause
	c.mu.Unlock()

	delay := bo.NextBackOff()
	if delay == backoff.Stop {
		log.Printf("ws: reconnect attempts exhausted: %v", cause)
		c.stop(done, models.StateDisconnected, fmt.Errorf("reconnect attempts exhausted: %w", cause))
		return false
	}
	observability.IncReconnect()
	c.setState(models.StateConnecting)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = c.opts.Multiplier
	b.RandomizationFactor = c.opts.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	if c.opts.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts))
	}
	return b
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// serve runs the read loop of one socket until it fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, info ConnInfo) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	c.dispatch(events.InConnect, nil)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			log.Printf("ws: malformed frame on %s: %v", info.ConnID, err)
			continue
		}
		observability.IncWSEvent("inbound", frame.Event)

		switch frame.Event {
		case events.InAuthError:
			c.dispatch(frame.Event, frame.Data)
			return &authError{msg: messageOf(frame.Data, "server rejected credentials")}
		case events.InConnectError:
			msg := messageOf(frame.Data, "")
			c.dispatch(frame.Event, frame.Data)
			if isAuthMessage(msg) {
				return &authError{msg: msg}
			}
			continue
		}
		c.dispatch(frame.Event, frame.Data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Printf("ws: ping failed: %v", err)
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[event]...)
	c.mu.Unlock()

	for _, e := range entries {
		e.fn(payload)
	}
}

// dispatchLocal delivers a transport-synthesized event.
func (c *Client) dispatchLocal(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: encode local %s: %v", event, err)
		return
	}
	c.dispatch(event, data)
}

func (c *Client) setState(state models.ConnectionState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	subs := append([]stateEntry(nil), c.stateSubs...)
	c.mu.Unlock()

	if !changed {
		return
	}
	observability.SetWSState(state)
	for _, s := range subs {
		s.fn(state)
	}
}

func (c *Client) closeConn(conn *websocket.Conn, code int, text string) {
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	conn.Close()
}

func (c *Client) publishWSEvent(info ConnInfo, name, reason string) {
	observability.IncWSEvent("lifecycle", name)
	var duration int64
	if !info.ConnectedAt.IsZero() {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, observability.NewEnvelope("ws_events", name, info.TraceID, map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       name,
			"conn_id":     info.ConnID,
			"endpoint":    info.Endpoint,
			"attempt":     info.Attempt,
			"duration_ms": duration,
			"reason":      reason,
		},
	}))
}

func messageOf(raw json.RawMessage, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(raw) > 0 {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			if body.Message != "" {
				return body.Message
			}
			if body.Error != "" {
				return body.Error
			}
		}
	}
	return fallback
}
