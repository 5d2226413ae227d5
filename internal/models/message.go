package models

import "time"

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// MessageStatus tracks the local delivery lifecycle of a message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageConfirmed MessageStatus = "confirmed"
	MessageFailed    MessageStatus = "failed"
)

// Message represents a chat message.
//
// ClientID is the correlation id minted for local sends and echoed back by the
// backend; messages loaded from the server may carry it or not.
type Message struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"clientId,omitempty"`
	ChatID      string        `json:"chatId"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId,omitempty"`
	Text        string        `json:"text"`
	Timestamp   time.Time     `json:"timestamp"`
	IsRead      bool          `json:"isRead"`
	IsEdited    bool          `json:"isEdited"`
	IsDeleted   bool          `json:"isDeleted"`
	ReplyTo     string        `json:"replyTo,omitempty"`
	MessageType MessageType   `json:"messageType"`
	Status      MessageStatus `json:"status"`
}

// DeletedText replaces the text of tombstoned messages.
const DeletedText = "This message was deleted"
