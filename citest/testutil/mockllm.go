package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
)

// MockLLMServer is an OpenAI-compatible chat completions server that answers
// from a MockLLMConfig script.
type MockLLMServer struct {
	server *httptest.Server
	config *MockLLMConfig

	mu       sync.Mutex
	requests []MockRequest
}

// MockRequest records an incoming chat request.
type MockRequest struct {
	Timestamp time.Time
	Path      string
	Body      ChatRequest
}

// ChatRequest is the subset of the chat completions request the mock reads.
type ChatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []ChatMessage `json:"messages"`
	Tools    []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

// ChatMessage is one request message.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolCalls  []struct {
		ID string `json:"id"`
	} `json:"tool_calls,omitempty"`
}

// Text returns the message content whether it was sent as a string or as
// an array of content parts.
func (m ChatMessage) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ToolNames returns the names of the tools offered in the request.
func (r ChatRequest) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

// NewMockLLMServer starts a mock server. A nil config uses
// DefaultMockLLMConfig.
func NewMockLLMServer(config *MockLLMConfig) *MockLLMServer {
	if config == nil {
		config = DefaultMockLLMConfig()
	}
	m := &MockLLMServer{config: config}

	r := chi.NewRouter()
	r.Post("/v1/chat/completions", m.handleChatCompletions)
	r.Post("/chat/completions", m.handleChatCompletions)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(r)
	return m
}

// URL returns the server's base URL including the /v1 prefix.
func (m *MockLLMServer) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// Requests returns a copy of all recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Reset forgets the recorded requests.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

type mockToolCall struct {
	id        string
	name      string
	arguments string
}

type mockResponse struct {
	content    string
	toolCalls  []mockToolCall
	chunkDelay time.Duration
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, MockRequest{Timestamp: time.Now(), Path: r.URL.Path, Body: req})
	m.mu.Unlock()

	if lag := m.config.Settings.LagMS; lag > 0 {
		select {
		case <-time.After(time.Duration(lag) * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	resp := m.generateResponse(req)
	if req.Stream {
		m.writeStreamingResponse(w, r, resp)
	} else {
		m.writeResponse(w, resp)
	}
}

// generateResponse answers a tool result with the rule's follow-up, and a
// user prompt with a tool call or a scripted text.
func (m *MockLLMServer) generateResponse(req ChatRequest) *mockResponse {
	resp := &mockResponse{chunkDelay: time.Duration(m.config.Settings.ChunkDelayMS) * time.Millisecond}
	if len(req.Messages) == 0 {
		resp.content = m.config.Defaults.Fallback
		return resp
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role == "tool" {
		resp.content = m.config.Defaults.FollowUp
		if rule := m.config.FindToolRuleByCallID(last.ToolCallID); rule != nil && rule.FollowUp != "" {
			resp.content = rule.FollowUp
		}
		return resp
	}

	prompt := lastUserPrompt(req.Messages)
	if rule := m.config.FindMatchingToolRule(prompt, req.ToolNames()); rule != nil {
		args, _ := json.Marshal(rule.ToolCall.Arguments)
		id := rule.ToolCall.ID
		if id == "" {
			id = "call_" + strings.ToLower(ulid.Make().String())
		}
		resp.content = rule.Response
		resp.toolCalls = []mockToolCall{{id: id, name: rule.Tool, arguments: string(args)}}
		return resp
	}

	resp.content = m.config.Defaults.Fallback
	if rule := m.config.FindMatchingResponse(prompt); rule != nil {
		resp.content = rule.Response
		if rule.ChunkDelayMS > 0 {
			resp.chunkDelay = time.Duration(rule.ChunkDelayMS) * time.Millisecond
		}
	}
	return resp
}

func lastUserPrompt(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text()
		}
	}
	return ""
}

func (m *MockLLMServer) usage() map[string]any {
	s := m.config.Settings
	return map[string]any{
		"prompt_tokens":     s.PromptTokens,
		"completion_tokens": s.OutputTokens,
		"total_tokens":      s.PromptTokens + s.OutputTokens,
	}
}

func finishReason(resp *mockResponse) string {
	if len(resp.toolCalls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// writeResponse writes a non-streaming response.
func (m *MockLLMServer) writeResponse(w http.ResponseWriter, resp *mockResponse) {
	message := map[string]any{
		"role":    "assistant",
		"content": resp.content,
	}
	if len(resp.toolCalls) > 0 {
		calls := make([]map[string]any, len(resp.toolCalls))
		for i, tc := range resp.toolCalls {
			calls[i] = map[string]any{
				"id":       tc.id,
				"type":     "function",
				"function": map[string]any{"name": tc.name, "arguments": tc.arguments},
			}
		}
		message["tool_calls"] = calls
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":      mockCompletionID(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt",
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason(resp),
		}},
		"usage": m.usage(),
	})
}

// writeStreamingResponse streams resp word by word, then its tool calls, a
// finish chunk and an optional usage chunk.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, r *http.Request, resp *mockResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := mockCompletionID()
	send := func(choices []map[string]any, extra map[string]any) bool {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-gpt",
			"choices": choices,
		}
		for k, v := range extra {
			chunk[k] = v
		}
		data, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	delta := func(d map[string]any) []map[string]any {
		return []map[string]any{{"index": 0, "delta": d}}
	}

	if !send(delta(map[string]any{"role": "assistant", "content": ""}), nil) {
		return
	}

	words := strings.Fields(resp.content)
	for i, word := range words {
		if i < len(words)-1 {
			word += " "
		}
		if !send(delta(map[string]any{"content": word}), nil) {
			return
		}
		if resp.chunkDelay > 0 {
			select {
			case <-time.After(resp.chunkDelay):
			case <-r.Context().Done():
				return
			}
		}
	}

	for i, tc := range resp.toolCalls {
		call := map[string]any{
			"index":    i,
			"id":       tc.id,
			"type":     "function",
			"function": map[string]any{"name": tc.name, "arguments": tc.arguments},
		}
		if !send(delta(map[string]any{"tool_calls": []map[string]any{call}}), nil) {
			return
		}
	}

	if !send([]map[string]any{{"index": 0, "delta": map[string]any{}, "finish_reason": finishReason(resp)}}, nil) {
		return
	}
	if m.config.Settings.IncludeUsage {
		if !send([]map[string]any{}, map[string]any{"usage": m.usage()}) {
			return
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func mockCompletionID() string {
	return "chatcmpl-mock-" + strings.ToLower(ulid.Make().String())
}
