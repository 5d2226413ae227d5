// Package events defines the realtime wire vocabulary: event names, outbound
// payloads and the closed set of inbound events the store reduces.
package events

// Outbound event names.
const (
	OutUserJoin               = "user:join"
	OutChatJoin               = "chat:join"
	OutChatLeave              = "chat:leave"
	OutMessageSend            = "message:send"
	OutMessageEdit            = "message:edit"
	OutMessageDelete          = "message:delete"
	OutMessageMarkRead        = "message:mark_read"
	OutTypingStart            = "typing:start"
	OutTypingStop             = "typing:stop"
	OutGetRecentConversations = "get_recent_conversations"
)

// Inbound event names. Connect, Disconnect and ConnectError are also
// synthesized locally by the transport.
const (
	InMessageNew          = "message:new"
	InMessageEdited       = "message:edited"
	InMessageDeleted      = "message:deleted"
	InUserTyping          = "user:typing"
	InMessagesRead        = "messages:read"
	InUserOnline          = "user:online"
	InUserOffline         = "user:offline"
	InUnreadMessagesCount = "unread_messages_count"
	InUnreadCountUpdated  = "unread_count_updated"
	InRecentConversations = "recent_conversations"
	InAuthError           = "auth_error"
	InConnectError        = "connect_error"
	InDisconnect          = "disconnect"
	InConnect             = "connect"
)

// InboundNames lists every event name Decode understands.
var InboundNames = []string{
	InMessageNew,
	InMessageEdited,
	InMessageDeleted,
	InUserTyping,
	InMessagesRead,
	InUserOnline,
	InUserOffline,
	InUnreadMessagesCount,
	InUnreadCountUpdated,
	InRecentConversations,
	InAuthError,
	InConnectError,
	InDisconnect,
}
