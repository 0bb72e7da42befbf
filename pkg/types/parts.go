package types

import (
	"encoding/json"
	"fmt"
)

// Part is a typed content unit within a message.
type Part interface {
	PartType() string
	PartID() string
	PartStatus() PartStatus
}

// PartStatus is the lifecycle status of a part.
type PartStatus string

const (
	PartActive    PartStatus = "active"
	PartCompleted PartStatus = "completed"
	PartError     PartStatus = "error"
)

const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
	PartTypeError     = "error"
)

// TextPart holds streamed answer text.
type TextPart struct {
	ID      string     `json:"id"`
	Type    string     `json:"type"` // always "text"
	Content string     `json:"content"`
	Status  PartStatus `json:"status"`
}

func (p *TextPart) PartType() string       { return PartTypeText }
func (p *TextPart) PartID() string         { return p.ID }
func (p *TextPart) PartStatus() PartStatus { return p.Status }

// ReasoningPart holds model thinking content.
type ReasoningPart struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"` // always "reasoning"
	Content  string     `json:"content"`
	Status   PartStatus `json:"status"`
	Duration int64      `json:"duration,omitempty"` // ms
}

func (p *ReasoningPart) PartType() string       { return PartTypeReasoning }
func (p *ReasoningPart) PartID() string         { return p.ID }
func (p *ReasoningPart) PartStatus() PartStatus { return p.Status }

// ToolPart is a tool invocation and, once available, its outcome.
type ToolPart struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // always "tool"
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName"`
	Input      string         `json:"input"` // raw JSON arguments as sent by the model
	Status     PartStatus     `json:"status"`
	Result     *string        `json:"result,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Title      string         `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Duration   int64          `json:"duration,omitempty"` // ms
}

func (p *ToolPart) PartType() string       { return PartTypeTool }
func (p *ToolPart) PartID() string         { return p.ID }
func (p *ToolPart) PartStatus() PartStatus { return p.Status }

// HasOutcome reports whether the tool call finished with a result or an error.
func (p *ToolPart) HasOutcome() bool {
	return p.Result != nil || p.Error != nil
}

// ErrorPart records an unrecoverable failure of the turn.
type ErrorPart struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"` // always "error"
	Error  string     `json:"error"`
	Status PartStatus `json:"status"`
}

func (p *ErrorPart) PartType() string       { return PartTypeError }
func (p *ErrorPart) PartID() string         { return p.ID }
func (p *ErrorPart) PartStatus() PartStatus { return p.Status }

// UnmarshalPart unmarshals a JSON part into the appropriate type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	var p Part
	switch raw.Type {
	case PartTypeText:
		p = &TextPart{}
	case PartTypeReasoning:
		p = &ReasoningPart{}
	case PartTypeTool:
		p = &ToolPart{}
	case PartTypeError:
		p = &ErrorPart{}
	default:
		return nil, fmt.Errorf("unknown part type %q", raw.Type)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UnmarshalJSON decodes a message including its typed parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

// ClonePart returns a deep copy of a part.
func ClonePart(p Part) Part {
	switch v := p.(type) {
	case *TextPart:
		c := *v
		return &c
	case *ReasoningPart:
		c := *v
		return &c
	case *ToolPart:
		c := *v
		if v.Result != nil {
			r := *v.Result
			c.Result = &r
		}
		if v.Error != nil {
			e := *v.Error
			c.Error = &e
		}
		if v.Metadata != nil {
			c.Metadata = make(map[string]any, len(v.Metadata))
			for k, val := range v.Metadata {
				c.Metadata[k] = val
			}
		}
		return &c
	case *ErrorPart:
		c := *v
		return &c
	}
	return p
}
