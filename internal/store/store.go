// Package store is the conversation state of a logged in session: the chat
// list, the active chat's messages, remote typing indicators and presence.
//
// Every mutation, local or inbound, runs to completion under one lock.
// Subscribers are notified after the lock is released, in mutation order,
// and must not call mutating store methods synchronously.
package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"chat-client/internal/api"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// Emitter publishes outbound realtime events. It never blocks.
type Emitter interface {
	Emit(event string, payload any)
}

// Options tunes a Store. Zero fields take the defaults.
type Options struct {
	// TypingWindow is how long a remote typing indicator lives without a
	// refresh.
	TypingWindow time.Duration
	// PageSize is the history page requested by LoadMessages.
	PageSize int
	// ReconcileWindow bounds the clock skew accepted when an echo without a
	// correlation id is matched to a pending send.
	ReconcileWindow time.Duration
	Now             func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TypingWindow <= 0 {
		o.TypingWindow = 3 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.ReconcileWindow <= 0 {
		o.ReconcileWindow = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type entry struct {
	msg models.Message
	seq uint64
}

// Store is the conversation state store.
type Store struct {
	api     api.ChatAPI
	emitter Emitter
	opts    Options

	mu         sync.Mutex
	self       string
	chats      []models.Chat
	localChats map[string]bool
	current    *models.Chat
	messages   []entry
	unsent     map[string][]entry
	seq        uint64
	typing     []*typingEntry
	typingSeq  uint64
	loading    int
	errMsg     string
	connErr    string
	connection models.ConnectionState
	generation uint64
	epoch      uint64

	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(State)
	nextSub  int
}

// New creates an empty store.
func New(chatAPI api.ChatAPI, emitter Emitter, opts Options) *Store {
	return &Store{
		api:        chatAPI,
		emitter:    emitter,
		opts:       opts.withDefaults(),
		localChats: make(map[string]bool),
		unsent:     make(map[string][]entry),
		connection: models.StateDisconnected,
		subs:       make(map[int]func(State)),
	}
}

// Subscribe registers fn for every state change and returns a function that
// removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetSelf sets the id of the logged in user.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	s.self = userID
	s.commit()
}

// SetConnection mirrors the transport state into the store.
func (s *Store) SetConnection(state models.ConnectionState) {
	s.mu.Lock()
	if s.connection == state {
		s.mu.Unlock()
		return
	}
	s.connection = state
	if state == models.StateConnected {
		s.connErr = ""
	}
	s.commit()
}

// Reset clears everything. Loads still in flight are discarded when they
// resolve.
func (s *Store) Reset() {
	s.mu.Lock()
	for _, t := range s.typing {
		t.timer.Stop()
	}
	s.self = ""
	s.chats = nil
	s.localChats = make(map[string]bool)
	s.current = nil
	s.messages = nil
	s.unsent = make(map[string][]entry)
	s.typing = nil
	observability.SetTypingUsers(0)
	s.loading = 0
	s.errMsg = ""
	s.connErr = ""
	s.connection = models.StateDisconnected
	s.generation++
	s.epoch++
	s.commit()
	log.Printf("store: reset")
}

// commit publishes the state to subscribers. It must be called with s.mu
// held and releases it.
func (s *Store) commit() {
	snap := s.snapshotLocked()
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// fail records a request error and publishes it.
func (s *Store) fail(op string, err error) error {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.commit()
	log.Printf("store: %s failed: %v", op, err)
	return &RequestError{Op: op, Err: err}
}

func (s *Store) emit(event string, payload any) {
	if s.emitter != nil {
		s.emitter.Emit(event, payload)
	}
}

func (s *Store) chatIndex(id string) int {
	for i, c := range s.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// currentChatLocked returns the freshest copy of the active chat.
func (s *Store) currentChatLocked() models.Chat {
	if i := s.chatIndex(s.current.ID); i >= 0 {
		return s.chats[i]
	}
	return *s.current
}

func (s *Store) currentID() string {
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

func (s *Store) messageIndex(id string) int {
	for i, e := range s.messages {
		if e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) clientIndex(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i, e := range s.messages {
		if e.msg.ClientID == clientID {
			return i
		}
	}
	return -1
}

func (s *Store) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// insertLocked places m by (timestamp, seq).
func (s *Store) insertLocked(e entry) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return before(e, s.messages[i])
	})
	s.messages = append(s.messages, entry{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = e
}

func (s *Store) removeLocked(i int) entry {
	e := s.messages[i]
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	return e
}

func before(a, b entry) bool {
	if !a.msg.Timestamp.Equal(b.msg.Timestamp) {
		return a.msg.Timestamp.Before(b.msg.Timestamp)
	}
	return a.seq < b.seq
}

// sortChatsLocked orders the chat list by most recent activity.
func (s *Store) sortChatsLocked() {
	sort.SliceStable(s.chats, func(i, j int) bool {
		return s.chats[i].LastActivity.After(s.chats[j].LastActivity)
	})
}

func (s *Store) touchChatLocked(i int, m models.Message) {
	c := &s.chats[i]
	if c.LastMessage != nil && (c.LastMessage.ID == m.ID || (m.ClientID != "" && c.LastMessage.ClientID == m.ClientID)) {
		msg := m
		c.LastMessage = &msg
	} else if c.LastMessage == nil || !m.Timestamp.Before(c.LastMessage.Timestamp) {
		msg := m
		c.LastMessage = &msg
	}
	if m.Timestamp.After(c.LastActivity) {
		c.LastActivity = m.Timestamp
	}
}

func confirmed(m models.Message) models.Message {
	if m.MessageType == "" {
		m.MessageType = models.MessageTypeText
	}
	if m.IsDeleted {
		m.Text = models.DeletedText
	}
	m.Status = models.MessageConfirmed
	return m
}
