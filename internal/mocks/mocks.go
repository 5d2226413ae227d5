package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/api"
	"chat-client/internal/models"
	"chat-client/internal/store"
	"chat-client/internal/ws"
)

type ChatAPIMock struct {
	mock.Mock
}

func (m *ChatAPIMock) ListChats(ctx context.Context) ([]models.Chat, error) {
	args := m.Called(ctx)
	var chats []models.Chat
	if val := args.Get(0); val != nil {
		chats = val.([]models.Chat)
	}
	return chats, args.Error(1)
}

func (m *ChatAPIMock) GetMessages(ctx context.Context, chatID string, page, limit int) ([]models.Message, error) {
	args := m.Called(ctx, chatID, page, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatAPIMock) SendMessage(ctx context.Context, chatID string, req api.SendMessageRequest) (models.Message, error) {
	args := m.Called(ctx, chatID, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatAPIMock) EditMessage(ctx context.Context, messageID, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatAPIMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *ChatAPIMock) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	args := m.Called(ctx, chatID, messageIDs)
	return args.Error(0)
}

type EmitterMock struct {
	mock.Mock
}

func (m *EmitterMock) Emit(event string, payload any) {
	m.Called(event, payload)
}

// TransportMock records subscriptions so tests can feed inbound events and
// state changes through Fire and SetState.
type TransportMock struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string][]ws.Handler
	states   []ws.StateHandler
}

func (m *TransportMock) Connect(ctx context.Context) {
	m.Called(ctx)
}

func (m *TransportMock) Disconnect() {
	m.Called()
}

func (m *TransportMock) Emit(event string, payload any) {
	m.Called(event, payload)
}

func (m *TransportMock) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *TransportMock) On(event string, handler ws.Handler) ws.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string][]ws.Handler)
	}
	m.handlers[event] = append(m.handlers[event], handler)
	return ws.Subscription{}
}

func (m *TransportMock) OnStateChange(handler ws.StateHandler) ws.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, handler)
	return ws.Subscription{}
}

func (m *TransportMock) Off(ws.Subscription) {}

// Subscribed reports whether a handler is registered for event.
func (m *TransportMock) Subscribed(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event]) > 0
}

// Fire delivers payload to the handlers of event.
func (m *TransportMock) Fire(event string, payload any) {
	raw, _ := json.Marshal(payload)
	m.mu.Lock()
	handlers := append([]ws.Handler(nil), m.handlers[event]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

// SetState delivers a connection state change.
func (m *TransportMock) SetState(state models.ConnectionState) {
	m.mu.Lock()
	handlers := append([]ws.StateHandler(nil), m.states...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

type ConversationsMock struct {
	mock.Mock
}

func (m *ConversationsMock) Snapshot() store.State {
	args := m.Called()
	var st store.State
	if val := args.Get(0); val != nil {
		st = val.(store.State)
	}
	return st
}

func (m *ConversationsMock) LoadChats(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *ConversationsMock) SetCurrentChat(ctx context.Context, chat *models.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}

func (m *ConversationsMock) LoadMessages(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ConversationsMock) SendMessage(ctx context.Context, text, receiverID, replyTo string) (models.Message, error) {
	args := m.Called(ctx, text, receiverID, replyTo)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationsMock) ResendMessage(ctx context.Context, clientID string) (models.Message, error) {
	args := m.Called(ctx, clientID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationsMock) EditMessage(ctx context.Context, messageID, text string) (models.Message, error) {
	args := m.Called(ctx, messageID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationsMock) DeleteMessage(ctx context.Context, messageID string) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *ConversationsMock) MarkAsRead(ctx context.Context, chatID string) error {
	args := m.Called(ctx, chatID)
	return args.Error(0)
}

func (m *ConversationsMock) StartTyping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ConversationsMock) StopTyping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *ConversationsMock) CreateChat(participantID string) (models.Chat, error) {
	args := m.Called(participantID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

type SessionMock struct {
	mock.Mock
}

func (m *SessionMock) Login(ctx context.Context, email, password string) error {
	args := m.Called(ctx, email, password)
	return args.Error(0)
}

func (m *SessionMock) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
