package events

// Frame is the JSON envelope of every realtime message in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// UserJoinPayload announces the logged in user after connecting.
type UserJoinPayload struct {
	UserID string `json:"userId"`
}

// ChatRef scopes chat:join, chat:leave and similar events.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

// MessageRef points at a message created, edited or deleted through REST.
type MessageRef struct {
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	ClientID   string `json:"clientId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	Text       string `json:"text,omitempty"`
}

// MarkReadPayload is sent with message:mark_read.
type MarkReadPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

// TypingPayload is sent with typing:start and typing:stop.
type TypingPayload struct {
	ChatID     string `json:"chatId"`
	ReceiverID string `json:"receiverId,omitempty"`
}
