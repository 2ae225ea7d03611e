// Package backend is the HTTP client for the meal-planning backend.
// Every operation exists in two variants: an authenticated one addressed
// with a bearer token, and a guest one addressed with an opaque guest id.
// The variant is selected per call from the caller identity.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

// ChatRequest is one question against the backend chat endpoint.
type ChatRequest struct {
	Question string `json:"question"`
	ThreadID string `json:"thread_id,omitempty"`
	UserID   int64  `json:"user_id,omitempty"`
	GuestID  string `json:"guest_id,omitempty"`
}

// ChatResponse is the backend's answer to a chat call. All fields are
// optional; NewThreadID, when present, replaces the locally held thread id.
type ChatResponse struct {
	NewThreadID          string          `json:"new_thread_id,omitempty"`
	LastAssistantMessage string          `json:"last_assistant_message,omitempty"`
	RecommendFollowUp    json.RawMessage `json:"recommend_follow_up,omitempty"`
	RecommendPrompt      json.RawMessage `json:"recommend_prompt,omitempty"`
	GuestID              string          `json:"guest_id,omitempty"`
}

// StatusError is a non-2xx backend reply. The body is logged server-side
// and never surfaced to the UI.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.Code)
}

// Client talks to the meal-planning backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a backend client with the given base URL and per-call
// timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Chat sends one question. Guest callers hit the guest endpoint with their
// guest id; authenticated callers hit the bearer-authorized endpoint.
func (c *Client) Chat(ctx context.Context, caller assistant.Caller, req ChatRequest) (*ChatResponse, error) {
	path := "/api/guest-chat/"
	if caller.Authenticated() {
		path = "/api/chat/"
		req.UserID = caller.UserID
	} else {
		req.GuestID = caller.GuestID
	}
	var resp ChatResponse
	if err := c.post(ctx, caller, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type toolCallBody struct {
	UserID   int64        `json:"user_id,omitempty"`
	GuestID  string       `json:"guest_id,omitempty"`
	ToolCall toolCallWire `json:"tool_call"`
}

type toolCallWire struct {
	ID        string          `json:"id"`
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallTool executes one backend business function on behalf of a paused
// run. The arguments are forwarded as given; the dispatcher has already
// injected caller context into them.
func (c *Client) CallTool(ctx context.Context, caller assistant.Caller, req platform.ToolCallRequest) (*platform.ToolCallResult, error) {
	path := "/api/guest-tool-call/"
	body := toolCallBody{
		ToolCall: toolCallWire{
			ID:        req.ID,
			Function:  req.Name,
			Arguments: json.RawMessage(req.Arguments),
		},
	}
	if caller.Authenticated() {
		path = "/api/tool-call/"
		body.UserID = caller.UserID
	} else {
		body.GuestID = caller.GuestID
	}

	var resp platform.ToolCallResult
	if err := c.post(ctx, caller, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.ToolCallID == "" {
		resp.ToolCallID = req.ID
	}
	return &resp, nil
}

type resetBody struct {
	GuestID string `json:"guest_id,omitempty"`
}

type resetResponse struct {
	GuestID string `json:"guest_id,omitempty"`
}

// ResetConversation signals the backend that the caller starts over.
// For guests the backend may rotate the guest id; the (possibly new) id
// is returned. For authenticated callers the returned id is empty.
func (c *Client) ResetConversation(ctx context.Context, caller assistant.Caller) (string, error) {
	path := "/api/guest-new-conversation/"
	body := resetBody{GuestID: caller.GuestID}
	if caller.Authenticated() {
		path = "/api/new-conversation/"
		body = resetBody{}
	}
	var resp resetResponse
	if err := c.post(ctx, caller, path, body, &resp); err != nil {
		return "", err
	}
	return resp.GuestID, nil
}

func (c *Client) post(ctx context.Context, caller assistant.Caller, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal backend request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "build backend request")
	}
	req.Header.Set("Content-Type", "application/json")
	if caller.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+caller.AccessToken)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "call backend %s", path)
	}
	defer resp.Body.Close()

	slog.Debug("backend: call completed",
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(detail)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode backend response from %s", path)
	}
	return nil
}
