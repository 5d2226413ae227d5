package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/events"
	"chat-client/internal/models"
)

type fakeServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	dials    int
	auths    []string
	tokens   []string
	reject   int
	conns    chan *websocket.Conn
	received chan []byte
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		conns:    make(chan *websocket.Conn, 8),
		received: make(chan []byte, 32),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.dials++
		fs.auths = append(fs.auths, r.Header.Get("Authorization"))
		fs.tokens = append(fs.tokens, r.URL.Query().Get("token"))
		reject := fs.reject
		fs.mu.Unlock()

		if reject != 0 {
			http.Error(w, "unauthorized", reject)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.received <- data
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/socket"
}

func (fs *fakeServer) setReject(status int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.reject = status
}

func (fs *fakeServer) dialCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no websocket connection accepted")
		return nil
	}
}

func staticToken(token string) CredentialProvider {
	return CredentialFunc(func(context.Context) (string, error) {
		return token, nil
	})
}

func testOptions() Options {
	return Options{
		HandshakeTimeout: time.Second,
		InitialBackoff:   10 * time.Millisecond,
		MaxBackoff:       20 * time.Millisecond,
		MaxAttempts:      3,
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func TestConnectSendsBearerTokenAndDispatches(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok-1"), testOptions())
	defer client.Disconnect()

	got := make(chan json.RawMessage, 1)
	client.On(events.InMessageNew, func(p json.RawMessage) { got <- p })

	client.Connect(context.Background())
	conn := fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	fs.mu.Lock()
	assert.Equal(t, "Bearer tok-1", fs.auths[0])
	assert.Equal(t, "tok-1", fs.tokens[0])
	fs.mu.Unlock()

	sendFrame(t, conn, events.InMessageNew, map[string]any{"id": "m1"})
	select {
	case payload := <-got:
		assert.JSONEq(t, `{"id":"m1"}`, string(payload))
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
}

func TestOffStopsDelivery(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	var mu sync.Mutex
	calls := 0
	sub := client.On(events.InUserOnline, func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	synced := make(chan struct{}, 1)
	client.On(events.InUserOffline, func(json.RawMessage) { synced <- struct{}{} })
	client.Off(sub)

	client.Connect(context.Background())
	conn := fs.accept(t)
	sendFrame(t, conn, events.InUserOnline, map[string]any{"userId": "u2"})
	sendFrame(t, conn, events.InUserOffline, map[string]any{"userId": "u2"})

	select {
	case <-synced:
	case <-time.After(time.Second):
		t.Fatal("sync handler not called")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

func TestConnectIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	client.Connect(context.Background())
	client.Connect(context.Background())
	fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	client.Connect(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
}

func TestEmitWritesFrameWhenConnected(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	client.Connect(context.Background())
	fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	client.Emit(events.OutTypingStart, events.TypingPayload{ChatID: "c1", ReceiverID: "u2"})

	select {
	case data := <-fs.received:
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &frame))
		assert.Equal(t, events.OutTypingStart, frame.Event)
		assert.JSONEq(t, `{"chatId":"c1","receiverId":"u2"}`, string(frame.Data))
	case <-time.After(time.Second):
		t.Fatal("frame not received")
	}
}

func TestEmitWhileDisconnectedIsDropped(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/socket", staticToken("tok"), testOptions())

	assert.NotPanics(t, func() {
		client.Emit(events.OutTypingStop, events.TypingPayload{ChatID: "c1"})
	})
	assert.False(t, client.IsConnected())
	assert.Equal(t, models.StateDisconnected, client.State())
}

func TestHandshakeUnauthorizedStopsReconnecting(t *testing.T) {
	fs := newFakeServer(t)
	fs.setReject(http.StatusUnauthorized)
	client := NewClient(fs.url(), staticToken("stale"), testOptions())
	defer client.Disconnect()

	errs := make(chan json.RawMessage, 4)
	client.On(events.InConnectError, func(p json.RawMessage) { errs <- p })

	client.Connect(context.Background())
	require.Eventually(t, func() bool {
		return client.State() == models.StateAuthFailed
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
	assert.False(t, client.IsConnected())
	require.Error(t, client.LastError())
	assert.Contains(t, client.LastError().Error(), "authentication failed")
	assert.Len(t, errs, 1)
}

func TestConnectErrorUnauthorizedDisconnects(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	seen := make(chan json.RawMessage, 1)
	client.On(events.InConnectError, func(p json.RawMessage) { seen <- p })

	client.Connect(context.Background())
	conn := fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	sendFrame(t, conn, events.InConnectError, map[string]any{"message": "Unauthorized: token expired"})

	require.Eventually(t, func() bool {
		return client.State() == models.StateAuthFailed
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, client.IsConnected())
	assert.Equal(t, 1, fs.dialCount())
	assert.Len(t, seen, 1)
}

func TestAuthErrorFrameDisconnects(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	client.Connect(context.Background())
	conn := fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	sendFrame(t, conn, events.InAuthError, map[string]any{"message": "session revoked"})

	require.Eventually(t, func() bool {
		return client.State() == models.StateAuthFailed
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fs.dialCount())
}

func TestReconnectsAfterServerDrop(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())
	defer client.Disconnect()

	dropped := make(chan json.RawMessage, 1)
	client.On(events.InDisconnect, func(p json.RawMessage) { dropped <- p })

	client.Connect(context.Background())
	first := fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	require.NoError(t, first.Close())

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("disconnect not dispatched")
	}
	fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, fs.dialCount())
}

func TestNoTokenStaysDisconnected(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken(""), testOptions())

	client.Connect(context.Background())
	require.Eventually(t, func() bool {
		return client.State() == models.StateDisconnected && client.LastError() != nil
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, fs.dialCount())

	// a later Connect is allowed to try again
	client.Connect(context.Background())
	require.Eventually(t, func() bool {
		return client.State() == models.StateDisconnected
	}, time.Second, 5*time.Millisecond)
}

func TestReconnectAttemptsExhausted(t *testing.T) {
	fs := newFakeServer(t)
	fs.setReject(http.StatusBadGateway)
	opts := testOptions()
	opts.MaxAttempts = 2
	client := NewClient(fs.url(), staticToken("tok"), opts)

	client.Connect(context.Background())
	require.Eventually(t, func() bool {
		err := client.LastError()
		return client.State() == models.StateDisconnected && err != nil && strings.Contains(err.Error(), "exhausted")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, fs.dialCount())
}

func TestDisconnectIsIdempotentAndAllowsReconnect(t *testing.T) {
	fs := newFakeServer(t)
	client := NewClient(fs.url(), staticToken("tok"), testOptions())

	var mu sync.Mutex
	var states []models.ConnectionState
	client.OnStateChange(func(s models.ConnectionState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	client.Connect(context.Background())
	fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)

	client.Disconnect()
	client.Disconnect()
	assert.Equal(t, models.StateDisconnected, client.State())

	mu.Lock()
	assert.Equal(t, []models.ConnectionState{
		models.StateConnecting,
		models.StateConnected,
		models.StateDisconnected,
	}, states)
	mu.Unlock()

	client.Connect(context.Background())
	fs.accept(t)
	require.Eventually(t, client.IsConnected, time.Second, 5*time.Millisecond)
	client.Disconnect()
	assert.Equal(t, 2, fs.dialCount())
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(&authError{msg: "x"}))
	assert.True(t, isAuthFailure(&websocket.CloseError{Code: closeUnauthorized}))
	assert.True(t, isAuthFailure(&websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "invalid token"}))
	assert.False(t, isAuthFailure(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.False(t, isAuthFailure(assert.AnError))
	assert.False(t, isAuthFailure(nil))
}

func TestDefaultReconnectPolicy(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 10*time.Second, opts.HandshakeTimeout)
	assert.Equal(t, time.Second, opts.InitialBackoff)
	assert.Equal(t, 30*time.Second, opts.MaxBackoff)
	assert.Equal(t, 2.0, opts.Multiplier)
	assert.Equal(t, 0.5, opts.Jitter)
	assert.Equal(t, 10, opts.MaxAttempts)

	c := NewClient("ws://127.0.0.1:1/socket", staticToken("t"), opts)
	assert.Equal(t, 10*time.Second, c.dialer.HandshakeTimeout)
	bo := c.newBackOff()

	base := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30, 30, 30}
	for i, b := range base {
		want := b * time.Second
		got := bo.NextBackOff()
		assert.GreaterOrEqual(t, got, want/2, "attempt %d", i+1)
		assert.LessOrEqual(t, got, want+want/2, "attempt %d", i+1)
	}
	assert.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestZeroOptionsFallBackToDefaults(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/socket", staticToken("t"), Options{})

	d := DefaultOptions()
	d.MaxAttempts = 0
	assert.Equal(t, d, c.opts)
}
