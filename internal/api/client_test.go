package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/auth"
	"chat-client/internal/models"
)

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) {
	return string(s), nil
}

func setupBackend(t *testing.T, register func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func requireBearer(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		c.Next()
	}
}

func TestListChatsDecodesEnvelope(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.GET("/chats", requireBearer("tok"), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": []gin.H{
				{"id": "c1", "chatType": "direct", "unreadCount": 2, "participants": []gin.H{{"id": "u2", "name": "bob"}}},
			}})
		})
	})

	client := NewClient(srv.URL, time.Second, staticToken("tok"))
	chats, err := client.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
	assert.Equal(t, models.ChatTypeDirect, chats[0].ChatType)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.Equal(t, "bob", chats[0].Participants[0].Name)
}

func TestUnauthorizedIsClassified(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.GET("/chats", requireBearer("good"), func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": []gin.H{}})
		})
	})

	client := NewClient(srv.URL, time.Second, staticToken("bad"))
	_, err := client.ListChats(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid token", apiErr.Message)
	assert.True(t, apiErr.Unauthorized())
}

func TestSuccessFalseEnvelopeIsError(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.DELETE("/messages/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "not your message"})
		})
	})

	client := NewClient(srv.URL, time.Second, nil)
	err := client.DeleteMessage(context.Background(), "m1")
	require.Error(t, err)

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not your message", apiErr.Message)
	assert.False(t, apiErr.Unauthorized())
}

func TestGetMessagesSendsPagination(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.GET("/chats/:chat_id/messages", func(c *gin.Context) {
			if c.Query("page") != "2" || c.Query("limit") != "25" {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad paging"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": []gin.H{
				{"id": "m1", "chatId": c.Param("chat_id"), "senderId": "u2", "text": "hi"},
			}})
		})
	})

	client := NewClient(srv.URL, time.Second, nil)
	msgs, err := client.GetMessages(context.Background(), "c1", 2, 25)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].ChatID)
}

func TestSendMessagePostsCorrelationID(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.POST("/chats/:chat_id/messages", func(c *gin.Context) {
			var req SendMessageRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"success": true, "data": gin.H{
				"id": "srv-1", "clientId": req.ClientID, "chatId": c.Param("chat_id"), "senderId": "u1", "receiverId": req.ReceiverID, "text": req.Text,
			}})
		})
	})

	client := NewClient(srv.URL, time.Second, nil)
	msg, err := client.SendMessage(context.Background(), "c1", SendMessageRequest{Text: "hi", ReceiverID: "u2", ClientID: "cid-1"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "cid-1", msg.ClientID)
	assert.Equal(t, "u2", msg.ReceiverID)
}

func TestMarkReadAndEdit(t *testing.T) {
	var readIDs []string
	srv := setupBackend(t, func(r *gin.Engine) {
		r.POST("/chats/:chat_id/read", func(c *gin.Context) {
			var body struct {
				MessageIDs []string `json:"messageIds"`
			}
			_ = c.ShouldBindJSON(&body)
			readIDs = body.MessageIDs
			c.JSON(http.StatusOK, gin.H{"success": true})
		})
		r.PUT("/messages/:id", func(c *gin.Context) {
			var body struct {
				Content string `json:"content"`
			}
			_ = c.ShouldBindJSON(&body)
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": c.Param("id"), "text": body.Content, "isEdited": true}})
		})
	})

	client := NewClient(srv.URL, time.Second, nil)
	require.NoError(t, client.MarkRead(context.Background(), "c1", []string{"m1", "m2"}))
	assert.Equal(t, []string{"m1", "m2"}, readIDs)

	msg, err := client.EditMessage(context.Background(), "m1", "fixed")
	require.NoError(t, err)
	assert.Equal(t, "fixed", msg.Text)
	assert.True(t, msg.IsEdited)
}

func TestLoginAndRefresh(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.POST("/auth/login", func(c *gin.Context) {
			var req LoginRequest
			_ = c.ShouldBindJSON(&req)
			if req.Password != "secret" {
				c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"accessToken": "a1", "refreshToken": "r1"}})
		})
		r.POST("/auth/refresh", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"accessToken": "a2"}})
		})
	})

	client := NewClient(srv.URL, time.Second, nil)
	tokens, err := client.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, auth.Tokens{AccessToken: "a1", RefreshToken: "r1"}, tokens)

	_, err = client.Login(context.Background(), LoginRequest{Email: "a@b.c", Password: "nope"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "Invalid credentials")

	refreshed, err := client.RefreshToken(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a2", refreshed.AccessToken)
}

func TestRequestTimeout(t *testing.T) {
	srv := setupBackend(t, func(r *gin.Engine) {
		r.GET("/chats", func(c *gin.Context) {
			time.Sleep(200 * time.Millisecond)
			c.JSON(http.StatusOK, gin.H{"success": true})
		})
	})

	client := NewClient(srv.URL, 20*time.Millisecond, nil)
	_, err := client.ListChats(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
