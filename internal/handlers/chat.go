package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-client/internal/api"
	"chat-client/internal/models"
	"chat-client/internal/session"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
)

// Conversations is the store surface the UI shell may use.
type Conversations interface {
	Snapshot() store.State
	LoadChats(ctx context.Context) error
	SetCurrentChat(ctx context.Context, chat *models.Chat) error
	LoadMessages(ctx context.Context, chatID string) error
	SendMessage(ctx context.Context, text, receiverID, replyTo string) (models.Message, error)
	ResendMessage(ctx context.Context, clientID string) (models.Message, error)
	EditMessage(ctx context.Context, messageID, text string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MarkAsRead(ctx context.Context, chatID string) error
	StartTyping() error
	StopTyping() error
	CreateChat(participantID string) (models.Chat, error)
}

// Sessions starts and ends the logged in session.
type Sessions interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
}

// ChatHandler exposes the conversation store over local HTTP.
type ChatHandler struct {
	conv  Conversations
	sess  Sessions
	audit *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(conv Conversations, sess Sessions, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{conv: conv, sess: sess, audit: audit}
}

// RegisterRoutes mounts the adapter API. auth guards every route but login.
func (h *ChatHandler) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.POST("/login", h.Login)

	g := router.Group("/", auth)
	g.GET("/state", h.GetState)
	g.GET("/chats", h.ListChats)
	g.POST("/chats/load", h.LoadChats)
	g.POST("/chats", h.CreateChat)
	g.POST("/chats/:chat_id/read", h.MarkAsRead)
	g.PUT("/current-chat", h.SetCurrentChat)
	g.DELETE("/current-chat", h.ClearCurrentChat)
	g.GET("/messages", h.GetMessages)
	g.POST("/messages", h.SendMessage)
	g.POST("/messages/:id/resend", h.ResendMessage)
	g.PATCH("/messages/:id", h.EditMessage)
	g.DELETE("/messages/:id", h.DeleteMessage)
	g.POST("/typing/start", h.StartTyping)
	g.POST("/typing/stop", h.StopTyping)
	g.POST("/logout", h.Logout)
}

// GetState returns the full store snapshot.
func (h *ChatHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.conv.Snapshot())
}

// ListChats returns the cached chat list.
func (h *ChatHandler) ListChats(c *gin.Context) {
	snap := h.conv.Snapshot()
	c.JSON(http.StatusOK, gin.H{"chats": snap.Chats, "unread_total": snap.UnreadTotal})
}

// LoadChats refreshes the chat list from the backend.
func (h *ChatHandler) LoadChats(c *gin.Context) {
	if err := h.conv.LoadChats(c.Request.Context()); err != nil {
		writeError(c, err, "failed to load chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": h.conv.Snapshot().Chats})
}

// CreateChat opens (or finds) the direct chat with a participant.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.conv.CreateChat(req.ParticipantID)
	if err != nil {
		writeError(c, err, "could not create chat")
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// SetCurrentChat switches the active chat.
func (h *ChatHandler) SetCurrentChat(c *gin.Context) {
	var req struct {
		ChatID string `json:"chat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, ok := h.conv.Snapshot().Chat(req.ChatID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}
	if err := h.conv.SetCurrentChat(c.Request.Context(), &chat); err != nil {
		writeError(c, err, "failed to open chat")
		return
	}

	snap := h.conv.Snapshot()
	c.JSON(http.StatusOK, gin.H{"current_chat": snap.CurrentChat, "messages": snap.Messages})
}

// ClearCurrentChat closes the active chat.
func (h *ChatHandler) ClearCurrentChat(c *gin.Context) {
	if err := h.conv.SetCurrentChat(c.Request.Context(), nil); err != nil {
		writeError(c, err, "failed to close chat")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMessages returns the active chat's messages, reloading them first when
// reload=true.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	snap := h.conv.Snapshot()
	if snap.CurrentChat == nil {
		c.JSON(http.StatusConflict, gin.H{"error": store.ErrNoCurrentChat.Error()})
		return
	}

	if c.Query("reload") == "true" {
		if err := h.conv.LoadMessages(c.Request.Context(), snap.CurrentChat.ID); err != nil {
			writeError(c, err, "failed to load messages")
			return
		}
		snap = h.conv.Snapshot()
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": snap.CurrentChat.ID, "messages": snap.Messages, "typing_users": snap.TypingUsers})
}

// SendMessage sends a message to the active chat. A failed send still
// returns the message, marked failed.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		Text       string `json:"text" binding:"required"`
		ReceiverID string `json:"receiver_id"`
		ReplyTo    string `json:"reply_to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conv.SendMessage(c.Request.Context(), req.Text, req.ReceiverID, req.ReplyTo)
	if err != nil {
		var reqErr *store.RequestError
		if errors.As(err, &reqErr) {
			h.emitAudit(c, telemetry.LevelError, "message_send_failed", "message send failed")
			c.JSON(errorStatus(err), gin.H{"error": "message not sent", "message": msg})
			return
		}
		writeError(c, err, "could not send message")
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ResendMessage retries a failed send.
func (h *ChatHandler) ResendMessage(c *gin.Context) {
	msg, err := h.conv.ResendMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, "could not resend message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// EditMessage changes the text of an own message.
func (h *ChatHandler) EditMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.conv.EditMessage(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		writeError(c, err, "could not edit message")
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage deletes an own message for everyone.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	if err := h.conv.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, "could not delete")
		return
	}
	h.emitAudit(c, telemetry.LevelInfo, "message_deleted", "message deleted for all")
	c.Status(http.StatusNoContent)
}

// MarkAsRead marks a chat read.
func (h *ChatHandler) MarkAsRead(c *gin.Context) {
	if err := h.conv.MarkAsRead(c.Request.Context(), c.Param("chat_id")); err != nil {
		writeError(c, err, "could not mark as read")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) StartTyping(c *gin.Context) {
	if err := h.conv.StartTyping(); err != nil {
		writeError(c, err, "could not send typing")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) StopTyping(c *gin.Context) {
	if err := h.conv.StopTyping(); err != nil {
		writeError(c, err, "could not send typing")
		return
	}
	c.Status(http.StatusNoContent)
}

// Login authenticates and starts the session.
func (h *ChatHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sess.Login(c.Request.Context(), req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyStarted):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, api.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "login failed"})
		}
		return
	}
	h.emitAudit(c, telemetry.LevelInfo, "login", "user logged in")
	c.Status(http.StatusNoContent)
}

// Logout ends the session and clears all local state.
func (h *ChatHandler) Logout(c *gin.Context) {
	if err := h.sess.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) emitAudit(c *gin.Context, level, action, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, action, text, requestIDFromContext(c), userIDFromContext(c))
}

func writeError(c *gin.Context, err error, fallback string) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	c.JSON(status, gin.H{"error": msg})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrEmptyText), errors.Is(err, store.ErrInvalidParticipant):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, store.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrNoCurrentChat),
		errors.Is(err, store.ErrNotCurrentChat),
		errors.Is(err, store.ErrNotConfirmed),
		errors.Is(err, store.ErrNotFailed),
		errors.Is(err, store.ErrMessageDeleted):
		return http.StatusConflict
	}
	var reqErr *store.RequestError
	if errors.As(err, &reqErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
