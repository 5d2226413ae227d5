package models

import "time"

// ChatType distinguishes one-to-one chats from group chats.
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// ChatUser is a chat participant as seen by the client.
type ChatUser struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Chat represents a conversation visible to the logged in user.
type Chat struct {
	ID           string     `json:"id"`
	Participants []ChatUser `json:"participants"`
	ChatType     ChatType   `json:"chatType"`
	LastMessage  *Message   `json:"lastMessage,omitempty"`
	LastActivity time.Time  `json:"lastActivity"`
	UnreadCount  int        `json:"unreadCount"`
}

// HasParticipant reports whether userID takes part in the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Peer returns the first participant that is not selfID. Direct chats have
// exactly one.
func (c Chat) Peer(selfID string) (ChatUser, bool) {
	for _, p := range c.Participants {
		if p.ID != selfID {
			return p, true
		}
	}
	return ChatUser{}, false
}

// Clone returns a deep copy safe to hand out of the store.
func (c Chat) Clone() Chat {
	out := c
	if c.Participants != nil {
		out.Participants = make([]ChatUser, len(c.Participants))
		for i, p := range c.Participants {
			out.Participants[i] = p
			if p.LastSeen != nil {
				seen := *p.LastSeen
				out.Participants[i].LastSeen = &seen
			}
		}
	}
	if c.LastMessage != nil {
		msg := *c.LastMessage
		out.LastMessage = &msg
	}
	return out
}
