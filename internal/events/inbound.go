package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chat-client/internal/models"
)

// ErrUnknownEvent is returned by Decode for names outside InboundNames.
var ErrUnknownEvent = errors.New("unknown inbound event")

// Inbound is one decoded event from the realtime channel. The set of
// implementations is closed to this package.
type Inbound interface {
	EventName() string
	inbound()
}

// MessageNew carries a message created on the server, possibly the echo of a
// local send.
type MessageNew struct {
	Message models.Message
}

// MessageEdited replaces the text of an existing message.
type MessageEdited struct {
	MessageID string    `json:"messageId"`
	ChatID    string    `json:"chatId"`
	Text      string    `json:"text"`
	EditedAt  time.Time `json:"editedAt"`
}

// MessageDeleted tombstones an existing message.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ChatID    string `json:"chatId"`
}

// UserTyping refreshes (or, with IsTyping false, clears) a typing indicator.
type UserTyping struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// MessagesRead acknowledges that ReaderID has read messages in a chat. An
// empty MessageIDs means every message not sent by the reader.
type MessagesRead struct {
	ChatID     string   `json:"chatId"`
	ReaderID   string   `json:"userId"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// UserOnline marks a user as online.
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline marks a user as offline.
type UserOffline struct {
	UserID   string     `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ChatUnread is the unread counter of one chat.
type ChatUnread struct {
	ChatID      string `json:"chatId"`
	UnreadCount int    `json:"unreadCount"`
}

// UnreadMessagesCount is the full unread snapshot sent after joining.
type UnreadMessagesCount struct {
	Total int          `json:"total"`
	Chats []ChatUnread `json:"chats"`
}

// UnreadCountUpdated updates the counter of a single chat.
type UnreadCountUpdated struct {
	ChatID      string `json:"chatId"`
	UnreadCount int    `json:"unreadCount"`
}

// RecentConversations answers get_recent_conversations.
type RecentConversations struct {
	Chats []models.Chat `json:"conversations"`
}

// AuthError reports that the server rejected the session credentials.
type AuthError struct {
	Message string `json:"message"`
}

// ConnectError reports a failed connection attempt.
type ConnectError struct {
	Message string `json:"message"`
}

// Disconnect reports the loss of the realtime connection.
type Disconnect struct {
	Reason string `json:"reason"`
}

func (MessageNew) EventName() string          { return InMessageNew }
func (MessageEdited) EventName() string       { return InMessageEdited }
func (MessageDeleted) EventName() string      { return InMessageDeleted }
func (UserTyping) EventName() string          { return InUserTyping }
func (MessagesRead) EventName() string        { return InMessagesRead }
func (UserOnline) EventName() string          { return InUserOnline }
func (UserOffline) EventName() string         { return InUserOffline }
func (UnreadMessagesCount) EventName() string { return InUnreadMessagesCount }
func (UnreadCountUpdated) EventName() string  { return InUnreadCountUpdated }
func (RecentConversations) EventName() string { return InRecentConversations }
func (AuthError) EventName() string           { return InAuthError }
func (ConnectError) EventName() string        { return InConnectError }
func (Disconnect) EventName() string          { return InDisconnect }

func (MessageNew) inbound()          {}
func (MessageEdited) inbound()       {}
func (MessageDeleted) inbound()      {}
func (UserTyping) inbound()          {}
func (MessagesRead) inbound()        {}
func (UserOnline) inbound()          {}
func (UserOffline) inbound()         {}
func (UnreadMessagesCount) inbound() {}
func (UnreadCountUpdated) inbound()  {}
func (RecentConversations) inbound() {}
func (AuthError) inbound()           {}
func (ConnectError) inbound()        {}
func (Disconnect) inbound()          {}

// Decode turns a raw wire payload into its typed event.
func Decode(name string, raw json.RawMessage) (Inbound, error) {
	switch name {
	case InMessageNew:
		return decodeMessageNew(raw)
	case InMessageEdited:
		var evt MessageEdited
		return decodeInto(name, raw, &evt)
	case InMessageDeleted:
		var evt MessageDeleted
		return decodeInto(name, raw, &evt)
	case InUserTyping:
		evt := UserTyping{IsTyping: true}
		return decodeInto(name, raw, &evt)
	case InMessagesRead:
		var evt MessagesRead
		return decodeInto(name, raw, &evt)
	case InUserOnline:
		var evt UserOnline
		return decodeInto(name, raw, &evt)
	case InUserOffline:
		var evt UserOffline
		return decodeInto(name, raw, &evt)
	case InUnreadMessagesCount:
		var evt UnreadMessagesCount
		return decodeInto(name, raw, &evt)
	case InUnreadCountUpdated:
		var evt UnreadCountUpdated
		return decodeInto(name, raw, &evt)
	case InRecentConversations:
		var evt RecentConversations
		return decodeInto(name, raw, &evt)
	case InAuthError:
		var evt AuthError
		return decodeInto(name, raw, &evt)
	case InConnectError:
		var evt ConnectError
		return decodeInto(name, raw, &evt)
	case InDisconnect:
		var evt Disconnect
		return decodeInto(name, raw, &evt)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// decodeInto unmarshals raw into the pointed-to event and returns its value.
// Empty payloads decode to the zero event.
func decodeInto[T Inbound](name string, raw json.RawMessage, evt *T) (Inbound, error) {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, evt); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return *evt, nil
}

func decodeMessageNew(raw json.RawMessage) (Inbound, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("decode %s: empty payload", InMessageNew)
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", InMessageNew, err)
	}
	if msg.ID == "" || msg.ChatID == "" {
		return nil, fmt.Errorf("decode %s: missing id or chatId", InMessageNew)
	}
	return MessageNew{Message: normalizeMessage(msg)}, nil
}

// normalizeMessage fills defaults for messages coming from the server, which
// are confirmed by definition.
func normalizeMessage(m models.Message) models.Message {
	if m.MessageType == "" {
		m.MessageType = models.MessageTypeText
	}
	m.Status = models.MessageConfirmed
	return m
}
