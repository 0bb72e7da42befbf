package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MockLLMConfig defines the YAML configuration schema for MockLLM scenarios.
type MockLLMConfig struct {
	Settings  MockSettings   `yaml:"settings"`
	Defaults  MockDefaults   `yaml:"defaults"`
	Responses []ResponseRule `yaml:"responses"`
	ToolRules []ToolRule     `yaml:"tool_rules"`
}

// MockSettings configures MockLLM server behavior.
type MockSettings struct {
	LagMS        int  `yaml:"lag_ms"`         // delay before the first byte
	ChunkDelayMS int  `yaml:"chunk_delay_ms"` // delay between streamed chunks
	IncludeUsage bool `yaml:"include_usage"`  // send a trailing usage chunk
	PromptTokens int  `yaml:"prompt_tokens"`
	OutputTokens int  `yaml:"output_tokens"`
}

// MockDefaults defines fallback behavior.
type MockDefaults struct {
	Fallback string `yaml:"fallback"` // response when no rule matches
	FollowUp string `yaml:"follow_up"`
}

// ResponseRule maps a prompt to a text response.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"` // higher wins
	// ChunkDelayMS overrides the global chunk delay for this rule.
	ChunkDelayMS int `yaml:"chunk_delay_ms"`
}

// MatchConfig defines how to match a prompt. All matching is
// case-insensitive; the first non-empty criterion decides.
type MatchConfig struct {
	Exact       string   `yaml:"exact"`
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Regex       string   `yaml:"regex"`
}

// ToolRule defines when to answer with a tool call instead of text.
type ToolRule struct {
	Name     string         `yaml:"name"`
	Match    MatchConfig    `yaml:"match"`
	Tool     string         `yaml:"tool"` // must be offered in the request
	ToolCall ToolCallConfig `yaml:"tool_call"`
	Response string         `yaml:"response"` // text streamed before the call
	// FollowUp is the answer once the tool result comes back.
	FollowUp string `yaml:"follow_up"`
	Priority int    `yaml:"priority"`
}

// ToolCallConfig defines a tool call to generate.
type ToolCallConfig struct {
	ID        string         `yaml:"id"`
	Arguments map[string]any `yaml:"arguments"`
}

// DefaultMockLLMConfig returns the built-in scenarios.
func DefaultMockLLMConfig() *MockLLMConfig {
	return &MockLLMConfig{
		Settings: MockSettings{
			ChunkDelayMS: 5,
			IncludeUsage: true,
			PromptTokens: 100,
			OutputTokens: 50,
		},
		Defaults: MockDefaults{
			Fallback: "I understand your request. Let me help you with that.",
			FollowUp: "Done.",
		},
		Responses: []ResponseRule{
			{
				Name:     "title",
				Match:    MatchConfig{Contains: "generate a title for this conversation"},
				Response: "Greeting the assistant",
				Priority: 100,
			},
			{
				Name:     "hello-world",
				Match:    MatchConfig{Contains: "hello, world"},
				Response: "Hello, World!",
				Priority: 10,
			},
			{
				Name:     "math-2plus2",
				Match:    MatchConfig{ContainsAny: []string{"2+2", "2 + 2"}},
				Response: "4",
				Priority: 10,
			},
			{
				Name:     "remember-42",
				Match:    MatchConfig{ContainsAll: []string{"remember", "42"}},
				Response: "OK",
				Priority: 10,
			},
			{
				Name:     "recall-number",
				Match:    MatchConfig{ContainsAll: []string{"what number", "remember"}},
				Response: "42",
				Priority: 11,
			},
			{
				Name:         "long-story",
				Match:        MatchConfig{Contains: "tell me a long story"},
				Response:     "Once upon a time there was a stream that never seemed to end because every word took its time to arrive",
				Priority:     10,
				ChunkDelayMS: 200,
			},
			{
				Name:     "simple-hello",
				Match:    MatchConfig{Contains: "hello"},
				Response: "Hello! How can I help you today?",
				Priority: 1,
			},
		},
		ToolRules: []ToolRule{
			{
				Name:     "echo-hello-world",
				Match:    MatchConfig{Contains: "echo hello world"},
				Tool:     "bash",
				ToolCall: ToolCallConfig{ID: "call_bash_001", Arguments: map[string]any{"command": "echo hello world", "description": "Print a greeting"}},
				Response: "I'll run that bash command for you.",
				FollowUp: "The command printed hello world.",
				Priority: 10,
			},
			{
				Name:     "read-notes",
				Match:    MatchConfig{ContainsAll: []string{"read", "notes.txt"}},
				Tool:     "read",
				ToolCall: ToolCallConfig{ID: "call_read_001", Arguments: map[string]any{"filePath": "notes.txt"}},
				FollowUp: "The notes say hello.",
				Priority: 10,
			},
			{
				Name:     "read-missing",
				Match:    MatchConfig{Contains: "read the missing file"},
				Tool:     "read",
				ToolCall: ToolCallConfig{ID: "call_read_002", Arguments: map[string]any{"filePath": "missing.txt"}},
				FollowUp: "That file does not exist.",
				Priority: 20,
			},
			{
				Name:  "plan-work",
				Match: MatchConfig{Contains: "plan the work"},
				Tool:  "todowrite",
				ToolCall: ToolCallConfig{ID: "call_todo_001", Arguments: map[string]any{"todos": []any{
					map[string]any{"content": "Write the parser", "activeForm": "Writing the parser", "status": "in_progress"},
					map[string]any{"content": "Add tests", "activeForm": "Adding tests", "status": "pending"},
				}}},
				FollowUp: "Plan recorded.",
				Priority: 10,
			},
			{
				Name:  "ask-database",
				Match: MatchConfig{Contains: "pick a database"},
				Tool:  "question",
				ToolCall: ToolCallConfig{ID: "call_question_001", Arguments: map[string]any{"questions": []any{
					map[string]any{"question": "Which database?", "options": []any{"Postgres", "SQLite"}},
				}}},
				FollowUp: "Going with your choice.",
				Priority: 10,
			},
		},
	}
}

// LoadMockLLMConfig loads configuration from a YAML file.
func LoadMockLLMConfig(path string) (*MockLLMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config MockLLMConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadMockLLMConfigFromDir looks for mockllm.yaml (or .yml) in dir.
func LoadMockLLMConfigFromDir(dir string) (*MockLLMConfig, error) {
	path := filepath.Join(dir, "mockllm.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Join(dir, "mockllm.yml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, err
		}
	}
	return LoadMockLLMConfig(path)
}

// SaveMockLLMConfig saves configuration to a YAML file.
func SaveMockLLMConfig(config *MockLLMConfig, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Matches checks if the prompt matches this rule.
func (m *MatchConfig) Matches(prompt string) bool {
	promptLower := strings.ToLower(prompt)

	switch {
	case m.Exact != "":
		return strings.EqualFold(strings.TrimSpace(prompt), m.Exact)

	case m.Contains != "":
		return strings.Contains(promptLower, strings.ToLower(m.Contains))

	case len(m.ContainsAll) > 0:
		for _, s := range m.ContainsAll {
			if !strings.Contains(promptLower, strings.ToLower(s)) {
				return false
			}
		}
		return true

	case len(m.ContainsAny) > 0:
		for _, s := range m.ContainsAny {
			if strings.Contains(promptLower, strings.ToLower(s)) {
				return true
			}
		}
		return false

	case m.Regex != "":
		re, err := regexp.Compile("(?i)" + m.Regex)
		return err == nil && re.MatchString(prompt)
	}
	return false
}

// FindMatchingResponse returns the highest-priority response rule matching
// prompt, or nil.
func (c *MockLLMConfig) FindMatchingResponse(prompt string) *ResponseRule {
	var best *ResponseRule
	for i := range c.Responses {
		rule := &c.Responses[i]
		if rule.Match.Matches(prompt) && (best == nil || rule.Priority > best.Priority) {
			best = rule
		}
	}
	return best
}

// FindMatchingToolRule finds the highest-priority tool rule matching prompt
// whose tool is among availableTools.
func (c *MockLLMConfig) FindMatchingToolRule(prompt string, availableTools []string) *ToolRule {
	toolSet := make(map[string]bool, len(availableTools))
	for _, t := range availableTools {
		toolSet[strings.ToLower(t)] = true
	}

	rules := make([]*ToolRule, 0, len(c.ToolRules))
	for i := range c.ToolRules {
		rules = append(rules, &c.ToolRules[i])
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	for _, rule := range rules {
		if toolSet[strings.ToLower(rule.Tool)] && rule.Match.Matches(prompt) {
			return rule
		}
	}
	return nil
}

// FindToolRuleByCallID returns the tool rule that produced callID, or nil.
func (c *MockLLMConfig) FindToolRuleByCallID(callID string) *ToolRule {
	for i := range c.ToolRules {
		if c.ToolRules[i].ToolCall.ID == callID {
			return &c.ToolRules[i]
		}
	}
	return nil
}
