package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-client/internal/auth"
	"chat-client/internal/models"
	"chat-client/internal/observability"
)

// CredentialProvider supplies the bearer token for requests.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client talks to the REST backend. Every call is bounded by the shared
// request timeout.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialProvider
	timeout time.Duration
}

// NewClient builds a client. creds may be nil for unauthenticated calls such
// as login and refresh.
func NewClient(baseURL string, timeout time.Duration, creds CredentialProvider) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		creds:   creds,
		timeout: timeout,
	}
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// ListChats returns the chats of the logged in user.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	if err := c.do(ctx, "list_chats", http.MethodGet, "/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetMessages returns one page of a chat's history, oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string, page, limit int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	path := "/chats/" + url.PathEscape(chatID) + "/messages?" + q.Encode()

	var msgs []models.Message
	if err := c.do(ctx, "get_messages", http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage creates a message and returns the stored version.
func (c *Client) SendMessage(ctx context.Context, chatID string, req SendMessageRequest) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, "send_message", http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", req, &msg)
	return msg, err
}

// EditMessage replaces the text of a message.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (models.Message, error) {
	var msg models.Message
	body := map[string]string{"content": content}
	err := c.do(ctx, "edit_message", http.MethodPut, "/messages/"+url.PathEscape(messageID), body, &msg)
	return msg, err
}

// DeleteMessage deletes a message for everyone.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, "delete_message", http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

// MarkRead acknowledges messages of a chat.
func (c *Client) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	body := map[string][]string{"messageIds": messageIDs}
	return c.do(ctx, "mark_read", http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/read", body, nil)
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, req LoginRequest) (auth.Tokens, error) {
	var tokens auth.Tokens
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", req, &tokens)
	return tokens, err
}

// RefreshToken exchanges a refresh token for a new pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	var tokens auth.Tokens
	body := map[string]string{"refreshToken": refreshToken}
	err := c.do(ctx, "refresh_token", http.MethodPost, "/auth/refresh", body, &tokens)
	return tokens, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := otel.Tracer("chat-client/api").Start(ctx, "api."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, op)
		}
		observability.ObserveREST(op, outcome, time.Since(start))
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.creds != nil {
		token, err := c.creds.AccessToken(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s: decode envelope: %w", op, err)
		}
	}

	if resp.StatusCode >= 300 || (env.Success != nil && !*env.Success) {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		status := 0
		if resp.StatusCode >= 300 {
			status = resp.StatusCode
		}
		return &Error{Op: op, Status: status, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", op, err)
		}
	}
	return nil
}
