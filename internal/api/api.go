// Package api is the REST client of the chat backend.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chat-client/internal/auth"
	"chat-client/internal/models"
)

// ErrUnauthorized matches errors caused by a rejected access token.
var ErrUnauthorized = errors.New("unauthorized")

// ChatAPI abstracts the chat endpoints used by the conversation store.
type ChatAPI interface {
	ListChats(ctx context.Context) ([]models.Chat, error)
	GetMessages(ctx context.Context, chatID string, page, limit int) ([]models.Message, error)
	SendMessage(ctx context.Context, chatID string, req SendMessageRequest) (models.Message, error)
	EditMessage(ctx context.Context, messageID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkRead(ctx context.Context, chatID string, messageIDs []string) error
}

// SendMessageRequest is the body of a message send. ClientID is echoed back
// in the created message and its message:new broadcast.
type SendMessageRequest struct {
	Text        string             `json:"text"`
	ReceiverID  string             `json:"receiverId"`
	ReplyTo     string             `json:"replyTo,omitempty"`
	ClientID    string             `json:"clientId"`
	MessageType models.MessageType `json:"messageType,omitempty"`
}

// LoginRequest carries user credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Error is a failed call, either an HTTP error status or an envelope with
// success=false.
type Error struct {
	Op      string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unauthorized reports whether the server rejected the credentials.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

func (e *Error) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}

var _ ChatAPI = (*Client)(nil)
var _ auth.Refresher = (*Client)(nil)
