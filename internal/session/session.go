// Package session wires the transport, the credential store and the
// conversation store for one logged in user.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"errors"
	"log"
	"sync"

	"chat-client/internal/api"
	"chat-client/internal/auth"
	"chat-client/internal/events"
	"chat-client/internal/models"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
	"chat-client/internal/ws"
)

// Transport is the realtime connection as seen by the session.
type Transport interface {
	Connect(ctx context.Context)
	Disconnect()
	Emit(event string, payload any)
	On(event string, handler ws.Handler) ws.Subscription
	OnStateChange(handler ws.StateHandler) ws.Subscription
	Off(sub ws.Subscription)
	IsConnected() bool
}

// Credentials is the logged in identity.
type Credentials interface {
	UserID() (string, error)
	SetTokens(tokens auth.Tokens)
	Clear()
}

// Authenticator exchanges a login for a token pair.
type Authenticator interface {
	Login(ctx context.Context, req api.LoginRequest) (auth.Tokens, error)
}

var (
	// ErrAlreadyStarted is returned by Login while a session is running.
	ErrAlreadyStarted = errors.New("session already started")

	ErrNoAuthenticator = errors.New("login not configured")
)

type Session struct {
	transport Transport
	store     *store.Store
	creds     Credentials
	authn     Authenticator
	audit     *telemetry.AuditEmitter

	mu      sync.Mutex
	started bool
	userID  string
	subs    []ws.Subscription
}

func New(transport Transport, st *store.Store, creds Credentials, authn Authenticator, audit *telemetry.AuditEmitter) *Session {
	return &Session{
		transport: transport,
		store:     st,
		creds:     creds,
		authn:     authn,
		audit:     audit,
	}
}

// Login authenticates with email and password, installs the tokens and
// starts the session.
func (s *Session) Login(ctx context.Context, email, password string) error {
	if s.authn == nil {
		return ErrNoAuthenticator
	}
	if s.Started() {
		return ErrAlreadyStarted
	}

	tokens, err := s.authn.Login(ctx, api.LoginRequest{Email: email, Password: password})
	if err != nil {
		log.Printf("session: login failed: %v", err)
		s.audit.Emit(ctx, telemetry.LevelWarn, "login_failed", "login rejected", "", "")
		return fmt.Errorf("session: login: %w", err)
	}
	s.creds.SetTokens(tokens)
	return s.Start(ctx)
}

// Start binds inbound events to the store, connects and loads the chat
// list. It is a no-op when already started. A failed chat load does not fail
// the start; it stays on the store's error field.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	userID, err := s.creds.UserID()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: resolve user: %w", err)
	}
	s.userID = userID
	s.store.SetSelf(userID)
	s.bindLocked()
	s.started = true
	s.mu.Unlock()

	log.Printf("session: started user_id=%s", userID)
	s.audit.Emit(ctx, telemetry.LevelInfo, "session_start", "session started", "", userID)

	// The connection outlives the caller's request; Logout and Close end it.
	s.transport.Connect(context.WithoutCancel(ctx))
	if err := s.store.LoadChats(ctx); err != nil {
		log.Printf("session: initial chat load failed: %v", err)
	}
	return nil
}

// Logout ends the session. The transport goes down before the store is
// cleared so no inbound event can repopulate it.
func (s *Session) Logout(ctx context.Context) error {
	s.transport.Disconnect()

	s.mu.Lock()
	s.unbindLocked()
	userID := s.userID
	s.started = false
	s.userID = ""
	s.mu.Unlock()

	s.store.Reset()
	s.creds.Clear()

	log.Printf("session: logged out user_id=%s", userID)
	s.audit.Emit(ctx, telemetry.LevelInfo, "logout", "user logged out", "", userID)
	return nil
}

// Close disconnects without clearing state or credentials.
func (s *Session) Close() {
	s.transport.Disconnect()

	s.mu.Lock()
	s.unbindLocked()
	s.started = false
	s.mu.Unlock()
}

// Started reports whether the session is running.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) bindLocked() {
	for _, name := range events.InboundNames {
		name := name
		sub := s.transport.On(name, func(raw json.RawMessage) {
			evt, err := events.Decode(name, raw)
			if err != nil {
				log.Printf("session: dropped event=%s: %v", name, err)
				return
			}
			s.store.Dispatch(evt)
		})
		s.subs = append(s.subs, sub)
	}
	s.subs = append(s.subs, s.transport.OnStateChange(s.onState))
}

func (s *Session) unbindLocked() {
	for _, sub := range s.subs {
		s.transport.Off(sub)
	}
	s.subs = nil
}

func (s *Session) onState(state models.ConnectionState) {
	s.store.SetConnection(state)

	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	switch state {
	case models.StateConnected:
		s.transport.Emit(events.OutUserJoin, events.UserJoinPayload{UserID: userID})
		s.transport.Emit(events.OutGetRecentConversations, nil)
		if cur := s.store.Snapshot().CurrentChat; cur != nil {
			s.transport.Emit(events.OutChatJoin, events.ChatRef{ChatID: cur.ID})
		}
	case models.StateAuthFailed:
		s.audit.Emit(context.Background(), telemetry.LevelWarn, "ws_auth_failed", "realtime connection rejected", "", userID)
	}
}
