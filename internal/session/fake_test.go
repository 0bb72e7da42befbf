package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStep scripts one provider call.
type fakeStep struct {
	chunks  []*schema.Message
	openErr error // returned by Stream itself
	err     error // sent after the chunks
	hold    bool  // after the chunks, block until the call context ends
}

// fakeModel is a scripted chat model. Each Stream call plays the next step.
type fakeModel struct {
	mu     sync.Mutex
	steps  []fakeStep
	inputs [][]*schema.Message
	tools  []*schema.ToolInfo
	title  string
}

func newFakeModel(steps ...fakeStep) *fakeModel {
	return &fakeModel{steps: steps}
}

func (m *fakeModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.title, nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	idx := len(m.inputs)
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()

	if idx >= len(m.steps) {
		return nil, fmt.Errorf("unexpected provider call %d", idx+1)
	}
	step := m.steps[idx]
	if step.openErr != nil {
		return nil, step.openErr
	}

	sr, sw := schema.Pipe[*schema.Message](len(step.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range step.chunks {
			if closed := sw.Send(c, nil); closed {
				return
			}
		}
		switch {
		case step.hold:
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		case step.err != nil:
			sw.Send(nil, step.err)
		}
	}()
	return sr, nil
}

func (m *fakeModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return m, nil
}

func (m *fakeModel) input(i int) []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[i]
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

type fakeClients struct {
	model *fakeModel
	err   error
}

func (c fakeClients) NewClient(context.Context, string, string) (model.ToolCallingChatModel, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.model, nil
}

func textChunk(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: s}
}

func reasoningChunk(s string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, ReasoningContent: s}
}

func toolCallChunk(index int, id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			Index:    &index,
			ID:       id,
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func usageChunk(prompt, completion int, finish string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: finish,
			Usage: &schema.TokenUsage{
				PromptTokens:     prompt,
				CompletionTokens: completion,
				TotalTokens:      prompt + completion,
			},
		},
	}
}

type echoInput struct {
	Text string `json:"text" validate:"required"`
}

type searchInput struct{}

// echoTools returns a registry with an echo tool and a search tool that
// always finds three files.
func echoTools() *tool.Registry {
	r := tool.NewRegistry()
	r.Register(tool.Define("echo", "Echoes text", func(_ context.Context, _ tool.Call, in echoInput) (tool.Result, error) {
		return tool.Result{Title: "echo", Output: in.Text}, nil
	}))
	r.Register(tool.Define("search", "Finds files", func(_ context.Context, _ tool.Call, _ searchInput) (tool.Result, error) {
		return tool.Result{
			Title:    "3 files",
			Output:   "a.go\nb.go\nc.go",
			Metadata: map[string]any{"count": 3},
		}, nil
	}))
	return r
}

func eventTypes(events []types.StreamEvent) []types.StreamEventType {
	out := make([]types.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// assertFraming checks that every delta sits inside its segment, segments
// of one kind never nest, and the sequence ends with one terminal event.
func assertFraming(t *testing.T, events []types.StreamEvent) {
	t.Helper()
	textOpen, reasoningOpen := false, false
	for i, ev := range events {
		switch ev.Type {
		case types.EventTextStart:
			assert.False(t, textOpen, "event %d: text-start while text is open", i)
			assert.False(t, reasoningOpen, "event %d: text-start while reasoning is open", i)
			textOpen = true
		case types.EventTextDelta:
			assert.True(t, textOpen, "event %d: text-delta outside a text segment", i)
		case types.EventTextEnd:
			assert.True(t, textOpen, "event %d: text-end without text-start", i)
			textOpen = false
		case types.EventReasoningStart:
			assert.False(t, reasoningOpen, "event %d: reasoning-start while reasoning is open", i)
			assert.False(t, textOpen, "event %d: reasoning-start while text is open", i)
			reasoningOpen = true
		case types.EventReasoningDelta:
			assert.True(t, reasoningOpen, "event %d: reasoning-delta outside a reasoning segment", i)
		case types.EventReasoningEnd:
			assert.True(t, reasoningOpen, "event %d: reasoning-end without reasoning-start", i)
			reasoningOpen = false
		}
		if ev.Type.Terminal() {
			assert.Equal(t, len(events)-1, i, "terminal event %s is not last", ev.Type)
		}
	}
	if assert.NotEmpty(t, events) {
		assert.True(t, events[len(events)-1].Type.Terminal(), "stream does not end with a terminal event")
	}
}
