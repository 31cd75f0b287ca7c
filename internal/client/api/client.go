// Package api is the HTTP client for the tavernmsg REST surface: auth,
// conversation management, and attachment upload. Real-time traffic goes
// over the chat package's WebSocket transport instead.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client talks to one tavernmsg server with an optional bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *slog.Logger
}

func New(baseURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// Participant is a user as other endpoints reference them.
type Participant struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Level     int    `json:"level"`
}

// Conversation is the REST view of a conversation.
type Conversation struct {
	ID           int64         `json:"id"`
	Name         *string       `json:"name,omitempty"`
	IsGroup      bool          `json:"is_group"`
	Participants []Participant `json:"participants,omitempty"`
	LastMessage  *string       `json:"last_message,omitempty"`
	UnreadCount  int           `json:"unread_count"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

func (c *Client) Login(ctx context.Context, username, password string) (AuthResponse, error) {
	return c.auth(ctx, "/api/auth/login/", username, password)
}

func (c *Client) Register(ctx context.Context, username, password string) (AuthResponse, error) {
	return c.auth(ctx, "/api/auth/register/", username, password)
}

func (c *Client) auth(ctx context.Context, path, username, password string) (AuthResponse, error) {
	var resp AuthResponse
	body := map[string]string{"username": username, "password": password}
	if err := c.postJSON(ctx, path, body, &resp); err != nil {
		return AuthResponse{}, err
	}
	c.token = resp.Token
	return resp, nil
}

// ListConversations fetches the caller's conversations, newest activity first.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/conversations/", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// StartConversation asks the backend to create (or return) a conversation
// with the given participants.
func (c *Client) StartConversation(ctx context.Context, participants []string, isGroup bool, name string) (Conversation, error) {
	var conv Conversation
	body := map[string]any{
		"participants": participants,
		"is_group":     isGroup,
	}
	if name != "" {
		body["name"] = name
	}
	if err := c.postJSON(ctx, "/api/conversations/start/", body, &conv); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// Upload posts files as one multipart request (field name "files") and
// returns the server-assigned attachment IDs to reference in a message
// frame. A non-2xx response is an error; the caller decides how to surface
// it.
func (c *Client) Upload(ctx context.Context, conversationID int64, paths []string) ([]string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		part, err := mw.CreateFormFile("files", filepath.Base(p))
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		f.Close()
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/api/conversations/%d/upload/", conversationID)
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		FileIDs []string `json:"file_ids"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.FileIDs, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
