// Package api is the REST client for the portal backend: authoritative
// snapshots of notifications, conversations and messages, plus the
// mutations that confirm optimistic local updates.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdesk/portal/src/models"
)

// DefaultTimeout is the default HTTP request timeout
const DefaultTimeout = 30 * time.Second

// APIError is a response the server answered with a non-2xx status and
// a human-readable message.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// IsAuth reports whether the error means the token is no longer valid.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports whether the requested resource does not exist.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to the portal REST API with a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	UserAgent  string
	HTTPClient *http.Client
}

// NewClient creates a client for the given server URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// errorResponse is the error body shape of the portal API.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do performs one request. body (if non-nil) is JSON-encoded; out (if
// non-nil) receives the decoded response body.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var errBody errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil {
			if errBody.Error != "" {
				apiErr.Message = errBody.Error
			} else if errBody.Message != "" {
				apiErr.Message = errBody.Message
			}
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CurrentUser resolves the token to a user identity.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	var out struct {
		User models.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/user/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// ListNotifications fetches the full notification snapshot.
func (c *Client) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var out struct {
		Notifications []models.Notification `json:"notifications"`
		Count         int                   `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/user/notifications", nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// MarkNotificationRead confirms a single read flag with the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/api/v1/user/notifications/" + url.PathEscape(id) + "/read"
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}

// MarkAllNotificationsRead confirms a mark-all with the server.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/api/v1/user/notifications/read", nil, nil)
}

// ListConversations fetches the conversation index snapshot.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	var out struct {
		Conversations []models.Conversation `json:"conversations"`
		Count         int                   `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/user/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// ListMessages fetches the message history for one peer.
func (c *Client) ListMessages(ctx context.Context, peerID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
		Count    int              `json:"count"`
	}
	path := "/api/v1/user/conversations/" + url.PathEscape(peerID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage delivers a message and returns the canonical entity the
// server assigned (id, created_at).
func (c *Client) SendMessage(ctx context.Context, peerID, content string) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	path := "/api/v1/user/conversations/" + url.PathEscape(peerID) + "/messages"
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

// MarkConversationRead marks every message from one peer as read.
// Idempotent server-side, safe to re-issue.
func (c *Client) MarkConversationRead(ctx context.Context, peerID string) error {
	path := "/api/v1/user/conversations/" + url.PathEscape(peerID) + "/read"
	return c.do(ctx, http.MethodPatch, path, nil, nil)
}
