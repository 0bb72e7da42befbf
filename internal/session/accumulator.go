package session

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/streamd/pkg/types"
)

// AccumulatorState is the lifecycle state of an Accumulator.
type AccumulatorState int

const (
	// AccumulatorStreaming accepts any event.
	AccumulatorStreaming AccumulatorState = iota
	// AccumulatorAborting has seen an abort; open parts are closed and
	// every later event is rejected.
	AccumulatorAborting
	// AccumulatorFinalized has seen a complete or error event.
	AccumulatorFinalized
)

func (s AccumulatorState) String() string {
	switch s {
	case AccumulatorStreaming:
		return "streaming"
	case AccumulatorAborting:
		return "aborting"
	case AccumulatorFinalized:
		return "finalized"
	}
	return fmt.Sprintf("AccumulatorState(%d)", int(s))
}

// Accumulator folds stream events into message parts. It is owned by a
// single goroutine.
type Accumulator struct {
	state    AccumulatorState
	parts    []types.Part
	text     *types.TextPart
	thinking *types.ReasoningPart
	tools    map[string]*types.ToolPart
	terminal *types.StreamEvent
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{tools: make(map[string]*types.ToolPart)}
}

// State returns the current state.
func (a *Accumulator) State() AccumulatorState {
	return a.state
}

// Apply folds one event into the parts. It reports whether the event changed
// the structure of the message (a part opened, closed or got an outcome), so
// callers know when to persist. After an abort or a terminal event every
// event is rejected with ErrStreamClosed.
func (a *Accumulator) Apply(ev types.StreamEvent) (structural bool, err error) {
	if a.state != AccumulatorStreaming {
		return false, fmt.Errorf("%w: %s event after %s", ErrStreamClosed, ev.Type, a.state)
	}

	switch ev.Type {
	case types.EventTextStart:
		a.closeText()
		a.text = &types.TextPart{ID: newPartID(), Type: types.PartTypeText, Status: types.PartActive}
		a.parts = append(a.parts, a.text)
		return true, nil

	case types.EventTextDelta:
		if a.text == nil {
			a.text = &types.TextPart{ID: newPartID(), Type: types.PartTypeText, Status: types.PartActive}
			a.parts = append(a.parts, a.text)
		}
		a.text.Content += ev.Text
		return false, nil

	case types.EventTextEnd:
		a.closeText()
		return true, nil

	case types.EventReasoningStart:
		a.closeReasoning(0)
		a.thinking = &types.ReasoningPart{ID: newPartID(), Type: types.PartTypeReasoning, Status: types.PartActive}
		a.parts = append(a.parts, a.thinking)
		return true, nil

	case types.EventReasoningDelta:
		if a.thinking == nil {
			a.thinking = &types.ReasoningPart{ID: newPartID(), Type: types.PartTypeReasoning, Status: types.PartActive}
			a.parts = append(a.parts, a.thinking)
		}
		a.thinking.Content += ev.Text
		return false, nil

	case types.EventReasoningEnd:
		a.closeReasoning(ev.Duration)
		return true, nil

	case types.EventToolCall:
		part := &types.ToolPart{
			ID:         newPartID(),
			Type:       types.PartTypeTool,
			ToolCallID: ev.ToolCallID,
			ToolName:   ev.ToolName,
			Input:      ev.Args,
			Status:     types.PartActive,
		}
		a.tools[ev.ToolCallID] = part
		a.parts = append(a.parts, part)
		return true, nil

	case types.EventToolResult:
		part, err := a.openTool(ev)
		if err != nil {
			return false, err
		}
		result := ev.Result
		part.Result = &result
		part.Title = ev.Title
		part.Metadata = ev.Metadata
		part.Duration = ev.Duration
		part.Status = types.PartCompleted
		delete(a.tools, ev.ToolCallID)
		return true, nil

	case types.EventToolError:
		part, err := a.openTool(ev)
		if err != nil {
			return false, err
		}
		msg := ev.Error
		part.Error = &msg
		part.Duration = ev.Duration
		part.Status = types.PartError
		delete(a.tools, ev.ToolCallID)
		return true, nil

	case types.EventComplete:
		a.closeText()
		a.closeReasoning(0)
		a.failTools("tool call did not finish")
		a.finish(ev, AccumulatorFinalized)
		return true, nil

	case types.EventError:
		a.markOpen(types.PartError)
		a.failTools(ev.Error)
		a.parts = append(a.parts, &types.ErrorPart{
			ID:     newPartID(),
			Type:   types.PartTypeError,
			Error:  ev.Error,
			Status: types.PartCompleted,
		})
		a.finish(ev, AccumulatorFinalized)
		return true, nil

	case types.EventAbort:
		a.closeText()
		a.closeReasoning(0)
		a.failTools("aborted")
		a.finish(ev, AccumulatorAborting)
		return true, nil
	}

	return false, fmt.Errorf("unknown stream event type %q", ev.Type)
}

// Parts returns a copy of the accumulated parts.
func (a *Accumulator) Parts() []types.Part {
	out := make([]types.Part, len(a.parts))
	for i, p := range a.parts {
		out[i] = types.ClonePart(p)
	}
	return out
}

// Terminal returns the terminal event applied so far, if any.
func (a *Accumulator) Terminal() (types.StreamEvent, bool) {
	if a.terminal == nil {
		return types.StreamEvent{}, false
	}
	return *a.terminal, true
}

// Status maps the terminal event to the message status. A stream without a
// terminal event is reported as an error.
func (a *Accumulator) Status() types.MessageStatus {
	ev, ok := a.Terminal()
	if !ok {
		return types.MessageError
	}
	switch ev.Type {
	case types.EventComplete:
		return types.MessageCompleted
	case types.EventAbort:
		return types.MessageAbort
	}
	return types.MessageError
}

func (a *Accumulator) openTool(ev types.StreamEvent) (*types.ToolPart, error) {
	part, ok := a.tools[ev.ToolCallID]
	if !ok {
		return nil, fmt.Errorf("%s for unknown tool call %q", ev.Type, ev.ToolCallID)
	}
	return part, nil
}

func (a *Accumulator) closeText() {
	if a.text != nil {
		a.text.Status = types.PartCompleted
		a.text = nil
	}
}

func (a *Accumulator) closeReasoning(duration int64) {
	if a.thinking != nil {
		a.thinking.Status = types.PartCompleted
		if duration > 0 {
			a.thinking.Duration = duration
		}
		a.thinking = nil
	}
}

func (a *Accumulator) markOpen(status types.PartStatus) {
	if a.text != nil {
		a.text.Status = status
		a.text = nil
	}
	if a.thinking != nil {
		a.thinking.Status = status
		a.thinking = nil
	}
}

// failTools marks every tool call still waiting for an outcome as failed,
// in part order.
func (a *Accumulator) failTools(reason string) {
	for _, p := range a.parts {
		part, ok := p.(*types.ToolPart)
		if !ok || a.tools[part.ToolCallID] != part {
			continue
		}
		msg := reason
		part.Error = &msg
		part.Status = types.PartError
		delete(a.tools, part.ToolCallID)
	}
}

func (a *Accumulator) finish(ev types.StreamEvent, state AccumulatorState) {
	a.terminal = &ev
	a.state = state
}

func newPartID() string {
	return ulid.Make().String()
}
