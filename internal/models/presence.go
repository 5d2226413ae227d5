package models

import "time"

// TypingUser marks a remote user currently typing in a chat. Entries expire
// unless refreshed.
type TypingUser struct {
	ChatID    string    `json:"chatId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ConnectionState is the state of the realtime connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateAuthFailed   ConnectionState = "authenticating_failed"
)
