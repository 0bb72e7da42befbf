package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/streamd/pkg/types"
)

// TestClient calls the streamd HTTP API.
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
	// StreamClient has no timeout; it is used for SSE endpoints.
	StreamClient *http.Client
}

// NewTestClient creates a new test HTTP client.
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL:      baseURL,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		StreamClient: &http.Client{},
	}
}

// Response wraps an HTTP response with helpers.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns the body as a string.
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorCode returns the code of an error response body.
func (r *Response) ErrorCode() string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(r.Body, &body)
	return body.Error.Code
}

// Get sends a GET request.
func (c *TestClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post sends a POST request with a JSON body.
func (c *TestClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Patch sends a PATCH request with a JSON body.
func (c *TestClient) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// Delete sends a DELETE request.
func (c *TestClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *TestClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *TestClient) do(ctx context.Context, method, path string, body any) (*Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func expectJSON(resp *Response, err error, v any) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("status %d: %s", resp.StatusCode, resp.String())
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// CreateSession creates a session in directory.
func (c *TestClient) CreateSession(ctx context.Context, directory, title string) (*types.Session, error) {
	var s types.Session
	resp, err := c.Post(ctx, "/session", map[string]string{"directory": directory, "title": title})
	return &s, expectJSON(resp, err, &s)
}

// GetSession fetches a session.
func (c *TestClient) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var s types.Session
	resp, err := c.Get(ctx, "/session/"+id)
	return &s, expectJSON(resp, err, &s)
}

// RenameSession sets a session's title.
func (c *TestClient) RenameSession(ctx context.Context, id, title string) (*types.Session, error) {
	var s types.Session
	resp, err := c.Patch(ctx, "/session/"+id, map[string]string{"title": title})
	return &s, expectJSON(resp, err, &s)
}

// ListSessions lists sessions, most recently updated first.
func (c *TestClient) ListSessions(ctx context.Context) ([]types.Session, error) {
	var sessions []types.Session
	resp, err := c.Get(ctx, "/session")
	return sessions, expectJSON(resp, err, &sessions)
}

// DeleteSession deletes a session.
func (c *TestClient) DeleteSession(ctx context.Context, id string) error {
	resp, err := c.Delete(ctx, "/session/"+id)
	return expectJSON(resp, err, nil)
}

// GetMessages returns a session's messages in order.
func (c *TestClient) GetMessages(ctx context.Context, id string) ([]types.Message, error) {
	var messages []types.Message
	resp, err := c.Get(ctx, "/session/"+id+"/message")
	return messages, expectJSON(resp, err, &messages)
}

// GetTodos returns a session's todo list.
func (c *TestClient) GetTodos(ctx context.Context, id string) ([]types.Todo, error) {
	var todos []types.Todo
	resp, err := c.Get(ctx, "/session/"+id+"/todo")
	return todos, expectJSON(resp, err, &todos)
}

// ListQuestions returns the questions a session is waiting on.
func (c *TestClient) ListQuestions(ctx context.Context, id string) ([]types.PendingQuestion, error) {
	var questions []types.PendingQuestion
	resp, err := c.Get(ctx, "/session/"+id+"/question")
	return questions, expectJSON(resp, err, &questions)
}

// AnswerQuestion answers the question asked by tool call callID.
func (c *TestClient) AnswerQuestion(ctx context.Context, id, callID string, answers ...string) error {
	resp, err := c.Post(ctx, "/session/"+id+"/question/"+callID, map[string]any{"answers": answers})
	return expectJSON(resp, err, nil)
}

// Abort stops a session's running stream and reports whether one was
// running.
func (c *TestClient) Abort(ctx context.Context, id string) (bool, error) {
	var body struct {
		Aborted bool `json:"aborted"`
	}
	resp, err := c.Post(ctx, "/session/"+id+"/abort", nil)
	return body.Aborted, expectJSON(resp, err, &body)
}

// SendMessageStream posts a message and returns the open event stream.
// A non-2xx answer is returned as *Response with a nil stream.
func (c *TestClient) SendMessageStream(ctx context.Context, id, content string, attachments ...string) (*SSEStream, *Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/session/"+id+"/message", map[string]any{
		"content":     content,
		"attachments": attachments,
	})
	if err != nil {
		return nil, nil, err
	}
	return c.openStream(req)
}

// SendMessage posts a message and collects its events up to the terminal
// one.
func (c *TestClient) SendMessage(ctx context.Context, id, content string, attachments ...string) ([]types.StreamEvent, error) {
	stream, resp, err := c.SendMessageStream(ctx, id, content, attachments...)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, resp.String())
	}
	defer stream.Close()
	return stream.Collect(30 * time.Second)
}

// Events subscribes to the notification stream.
func (c *TestClient) Events(ctx context.Context) (*SSEStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/event", nil)
	if err != nil {
		return nil, err
	}
	stream, resp, err := c.openStream(req)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, resp.String())
	}
	return stream, nil
}

func (c *TestClient) openStream(req *http.Request) (*SSEStream, *Response, error) {
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.StreamClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
	}
	return newSSEStream(resp.Body), &Response{StatusCode: resp.StatusCode, Headers: resp.Header}, nil
}
