package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

// MaxSteps is the default limit of provider calls in one turn.
const MaxSteps = 50

// DriverRequest describes one model turn.
type DriverRequest struct {
	Model    model.ToolCallingChatModel
	Messages []*schema.Message

	// Tools answers tool calls. A nil registry fails every call.
	Tools *tool.Registry

	// ToolCall is the template for every tool invocation. CallID is filled
	// in per call.
	ToolCall tool.Call

	// OutputHook, when set, rewrites successful tool output.
	OutputHook ToolOutputHook

	MaxSteps int
}

// Driver turns a provider stream into normalized stream events and runs the
// tools the model asks for.
type Driver struct {
	log zerolog.Logger
}

// NewDriver creates a driver.
func NewDriver() *Driver {
	return &Driver{log: logging.Component("driver")}
}

type segment int

const (
	segmentNone segment = iota
	segmentText
	segmentReasoning
)

// stepResult is what one provider call produced.
type stepResult struct {
	content      string
	calls        []schema.ToolCall
	usage        *types.Usage
	finishReason string
}

type stepOutcome int

const (
	stepDone stepOutcome = iota
	stepAborted
	stepFailed
)

// Run drives the model until it stops calling tools, emitting events in
// order. It always ends with exactly one terminal event: complete, error or
// abort. emit is called from the calling goroutine only.
func (d *Driver) Run(ctx context.Context, req DriverRequest, emit func(types.StreamEvent)) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = MaxSteps
	}
	tools := req.Tools
	if tools == nil {
		tools = tool.NewRegistry()
	}

	chat := req.Model
	if infos := tools.ToolInfos(); len(infos) > 0 {
		bound, err := chat.WithTools(infos)
		if err != nil {
			emit(types.Error(fmt.Sprintf("bind tools: %v", err)))
			return
		}
		chat = bound
	}

	messages := append([]*schema.Message(nil), req.Messages...)
	var usage *types.Usage
	finishReason := ""

	for step := 0; ; step++ {
		if step >= maxSteps {
			emit(types.Error(fmt.Sprintf("maximum number of steps (%d) reached", maxSteps)))
			return
		}
		if ctx.Err() != nil {
			emit(types.Abort())
			return
		}

		d.log.Debug().Int("step", step).Int("messages", len(messages)).Msg("Calling provider")
		reader, err := chat.Stream(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				emit(types.Abort())
				return
			}
			emit(types.Error(err.Error()))
			return
		}

		res, outcome, err := d.pump(ctx, reader, emit)
		reader.Close()
		switch outcome {
		case stepAborted:
			emit(types.Abort())
			return
		case stepFailed:
			emit(types.Error(err.Error()))
			return
		}

		if res.usage != nil {
			total := res.usage.Add(types.Usage{})
			if usage != nil {
				total = usage.Add(*res.usage)
			}
			usage = &total
		}
		if res.finishReason != "" {
			finishReason = res.finishReason
		}

		if len(res.calls) == 0 {
			emit(types.Complete(usage, finishReason))
			return
		}

		messages = append(messages, schema.AssistantMessage(res.content, res.calls))
		for _, call := range res.calls {
			emit(types.ToolCall(call.ID, call.Function.Name, call.Function.Arguments))

			ev, modelOutput, aborted := d.execute(ctx, req, tools, call)
			if aborted {
				emit(types.Abort())
				return
			}
			emit(ev)
			messages = append(messages, &schema.Message{
				Role:       schema.Tool,
				Content:    modelOutput,
				ToolCallID: call.ID,
			})
		}
	}
}

// pump reads one provider stream to its end, framing text and reasoning
// segments and merging tool call fragments.
func (d *Driver) pump(ctx context.Context, reader *schema.StreamReader[*schema.Message], emit func(types.StreamEvent)) (stepResult, stepOutcome, error) {
	var (
		res            stepResult
		open           = segmentNone
		reasoningStart time.Time
		content        []byte
		calls          = map[int]*schema.ToolCall{}
		order          []int
	)

	closeOpen := func() {
		switch open {
		case segmentText:
			emit(types.TextEnd())
		case segmentReasoning:
			emit(types.ReasoningEnd(time.Since(reasoningStart).Milliseconds()))
		}
		open = segmentNone
	}

	for {
		if ctx.Err() != nil {
			return res, stepAborted, ctx.Err()
		}

		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, stepAborted, ctx.Err()
			}
			return res, stepFailed, err
		}
		if chunk == nil {
			continue
		}

		if chunk.ReasoningContent != "" {
			if open != segmentReasoning {
				closeOpen()
				emit(types.ReasoningStart())
				reasoningStart = time.Now()
				open = segmentReasoning
			}
			emit(types.ReasoningDelta(chunk.ReasoningContent))
		}

		if chunk.Content != "" {
			if open != segmentText {
				closeOpen()
				emit(types.TextStart())
				open = segmentText
			}
			emit(types.TextDelta(chunk.Content))
			content = append(content, chunk.Content...)
		}

		for _, tc := range chunk.ToolCalls {
			key := toolCallKey(tc, calls, order)
			acc, ok := calls[key]
			if !ok {
				acc = &schema.ToolCall{Type: "function"}
				calls[key] = acc
				order = append(order, key)
			}
			mergeToolCall(acc, tc)
		}

		if meta := chunk.ResponseMeta; meta != nil {
			if meta.Usage != nil {
				res.usage = mergeUsage(res.usage, meta.Usage)
			}
			if meta.FinishReason != "" {
				res.finishReason = meta.FinishReason
			}
		}
	}
	closeOpen()

	sort.Ints(order)
	for i, key := range order {
		call := *calls[key]
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", i)
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		res.calls = append(res.calls, call)
	}
	res.content = string(content)
	return res, stepDone, nil
}

// toolCallKey finds the accumulator for a tool call fragment: by index when
// the provider sends one, then by id, then the most recent call.
func toolCallKey(tc schema.ToolCall, calls map[int]*schema.ToolCall, order []int) int {
	if tc.Index != nil {
		return *tc.Index
	}
	if tc.ID != "" {
		for _, key := range order {
			if calls[key].ID == tc.ID {
				return key
			}
		}
		return len(order)
	}
	if len(order) > 0 {
		return order[len(order)-1]
	}
	return 0
}

func mergeToolCall(acc *schema.ToolCall, tc schema.ToolCall) {
	if tc.ID != "" {
		acc.ID = tc.ID
	}
	if tc.Type != "" {
		acc.Type = tc.Type
	}
	if tc.Function.Name != "" {
		acc.Function.Name = tc.Function.Name
	}
	acc.Function.Arguments += tc.Function.Arguments
}

// mergeUsage folds a chunk's token usage into the step total. Providers
// report usage either once or cumulatively across chunks, so the largest
// value of each counter wins.
func mergeUsage(cur *types.Usage, u *schema.TokenUsage) *types.Usage {
	if cur == nil {
		cur = &types.Usage{}
	}
	cur.PromptTokens = max(cur.PromptTokens, u.PromptTokens)
	cur.CompletionTokens = max(cur.CompletionTokens, u.CompletionTokens)
	cur.TotalTokens = max(cur.TotalTokens, u.TotalTokens, cur.PromptTokens+cur.CompletionTokens)
	return cur
}

type toolOutcome struct {
	result tool.Result
	err    error
}

// execute runs one tool call on a context detached from ctx. When ctx ends
// first the call keeps running to completion in the background, its result
// is dropped and aborted is true.
func (d *Driver) execute(ctx context.Context, req DriverRequest, tools *tool.Registry, tc schema.ToolCall) (ev types.StreamEvent, modelOutput string, aborted bool) {
	name := tc.Function.Name
	call := req.ToolCall
	call.CallID = tc.ID

	start := time.Now()
	done := make(chan toolOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- toolOutcome{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		res, err := tools.Execute(context.WithoutCancel(ctx), name, call, tc.Function.Arguments)
		done <- toolOutcome{result: res, err: err}
	}()

	var out toolOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		d.log.Debug().Str("tool", name).Str("callID", tc.ID).Msg("Abandoning tool call after abort")
		return types.StreamEvent{}, "", true
	}
	duration := time.Since(start).Milliseconds()

	if out.err != nil {
		d.log.Debug().Err(out.err).Str("tool", name).Msg("Tool call failed")
		return types.ToolError(tc.ID, name, out.err.Error(), duration), "Error: " + out.err.Error(), false
	}

	output := out.result.Output
	if req.OutputHook != nil {
		output = req.OutputHook(ctx, name, output)
	}
	ev = types.ToolResult(tc.ID, name, output, duration)
	ev.Title = out.result.Title
	ev.Metadata = out.result.Metadata
	return ev, output, false
}
