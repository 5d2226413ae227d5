package store

import (
	"chat-client/internal/models"
)

// State is an immutable snapshot of the store. Slices and pointers are
// copies owned by the receiver.
type State struct {
	Chats       []models.Chat          `json:"chats"`
	CurrentChat *models.Chat           `json:"currentChat"`
	Messages    []models.Message       `json:"messages"`
	TypingUsers []models.TypingUser    `json:"typingUsers"`
	Loading     bool                   `json:"loading"`
	Error       string                 `json:"error,omitempty"`
	Connection  models.ConnectionState `json:"connection"`
	UnreadTotal int                    `json:"unreadTotal"`
}

// Chat returns the chat with the given id from the snapshot.
func (s State) Chat(id string) (models.Chat, bool) {
	for _, c := range s.Chats {
		if c.ID == id {
			return c, true
		}
	}
	return models.Chat{}, false
}

// Message returns the message with the given id (or client id) from the
// active chat.
func (s State) Message(id string) (models.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id || (m.ClientID != "" && m.ClientID == id) {
			return m, true
		}
	}
	return models.Message{}, false
}

func (s *Store) snapshotLocked() State {
	st := State{
		Chats:       make([]models.Chat, 0, len(s.chats)),
		Messages:    make([]models.Message, 0, len(s.messages)),
		TypingUsers: make([]models.TypingUser, 0, len(s.typing)),
		Loading:     s.loading > 0,
		Error:       s.errMsg,
		Connection:  s.connection,
	}
	if s.connErr != "" {
		st.Error = s.connErr
	}
	for _, c := range s.chats {
		st.Chats = append(st.Chats, c.Clone())
		st.UnreadTotal += c.UnreadCount
	}
	if s.current != nil {
		cur := s.current.Clone()
		if i := s.chatIndex(cur.ID); i >= 0 {
			cur = s.chats[i].Clone()
		}
		st.CurrentChat = &cur
	}
	for _, e := range s.messages {
		st.Messages = append(st.Messages, e.msg)
	}
	for _, t := range s.typing {
		st.TypingUsers = append(st.TypingUsers, t.user)
	}
	return st
}
