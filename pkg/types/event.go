package types

// StreamEventType names a normalized stream event.
type StreamEventType string

const (
	EventTextStart      StreamEventType = "text-start"
	EventTextDelta      StreamEventType = "text-delta"
	EventTextEnd        StreamEventType = "text-end"
	EventReasoningStart StreamEventType = "reasoning-start"
	EventReasoningDelta StreamEventType = "reasoning-delta"
	EventReasoningEnd   StreamEventType = "reasoning-end"
	EventToolCall       StreamEventType = "tool-call"
	EventToolResult     StreamEventType = "tool-result"
	EventToolError      StreamEventType = "tool-error"
	EventComplete       StreamEventType = "complete"
	EventError          StreamEventType = "error"
	EventAbort          StreamEventType = "abort"
)

// Terminal reports whether the event ends a stream.
func (t StreamEventType) Terminal() bool {
	return t == EventComplete || t == EventError || t == EventAbort
}

// StreamEvent is one unit of a live model response.
// Only the fields relevant to Type are set.
type StreamEvent struct {
	Type         StreamEventType `json:"type"`
	Text         string          `json:"text,omitempty"`
	Duration     int64           `json:"duration,omitempty"` // ms
	ToolCallID   string          `json:"toolCallId,omitempty"`
	ToolName     string          `json:"toolName,omitempty"`
	Args         string          `json:"args,omitempty"`
	Result       string          `json:"result,omitempty"`
	Title        string          `json:"title,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Error        string          `json:"error,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finishReason,omitempty"`
}

func TextStart() StreamEvent            { return StreamEvent{Type: EventTextStart} }
func TextDelta(text string) StreamEvent { return StreamEvent{Type: EventTextDelta, Text: text} }
func TextEnd() StreamEvent              { return StreamEvent{Type: EventTextEnd} }
func ReasoningStart() StreamEvent       { return StreamEvent{Type: EventReasoningStart} }

func ReasoningDelta(text string) StreamEvent {
	return StreamEvent{Type: EventReasoningDelta, Text: text}
}

func ReasoningEnd(durationMS int64) StreamEvent {
	return StreamEvent{Type: EventReasoningEnd, Duration: durationMS}
}

func ToolCall(id, name, args string) StreamEvent {
	return StreamEvent{Type: EventToolCall, ToolCallID: id, ToolName: name, Args: args}
}

func ToolResult(id, name, result string, durationMS int64) StreamEvent {
	return StreamEvent{Type: EventToolResult, ToolCallID: id, ToolName: name, Result: result, Duration: durationMS}
}

func ToolError(id, name, errMsg string, durationMS int64) StreamEvent {
	return StreamEvent{Type: EventToolError, ToolCallID: id, ToolName: name, Error: errMsg, Duration: durationMS}
}

func Complete(usage *Usage, finishReason string) StreamEvent {
	return StreamEvent{Type: EventComplete, Usage: usage, FinishReason: finishReason}
}

func Error(msg string) StreamEvent { return StreamEvent{Type: EventError, Error: msg} }
func Abort() StreamEvent           { return StreamEvent{Type: EventAbort} }
