package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/pkg/types"
)

// SegmentType is the kind of content carried by a context segment.
type SegmentType string

const (
	SegmentText       SegmentType = "text"
	SegmentFile       SegmentType = "file"
	SegmentReasoning  SegmentType = "reasoning"
	SegmentToolCall   SegmentType = "tool-call"
	SegmentToolResult SegmentType = "tool-result"
)

// MaxAttachmentSize is the largest attachment inlined into context.
const MaxAttachmentSize = 5 * 1024 * 1024

const interruptedToolResult = "Tool execution was interrupted before a result was recorded."

// Segment is one typed piece of a context block.
type Segment struct {
	Type SegmentType `json:"type"`
	Text string      `json:"text,omitempty"`

	// File segments. Text files carry their content in Text, anything
	// else is base64 encoded in Data.
	Path     string `json:"path,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`

	// Tool segments.
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"`
	Args       string `json:"args,omitempty"`
	IsError    bool   `json:"isError,omitempty"`
}

// ContextBlock is the model-ready form of one message.
type ContextBlock struct {
	Role     types.MessageRole `json:"role"`
	Segments []Segment         `json:"segments"`
}

// ContextOptions configures BuildContext.
type ContextOptions struct {
	// Fs reads attachments. Defaults to the OS filesystem.
	Fs afero.Fs
}

// BuildContext turns persisted messages into context blocks, one per message.
//
// User messages are prefixed with the system status and todo list captured
// when they were sent, so rebuilding the same history always yields the same
// blocks. Attachments that cannot be read are logged and skipped.
func BuildContext(ctx context.Context, messages []*types.Message, opts ContextOptions) ([]ContextBlock, error) {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	blocks := make([]ContextBlock, 0, len(messages))
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var segments []Segment
		switch msg.Role {
		case types.RoleUser:
			segments = userSegments(fsys, msg)
		case types.RoleAssistant:
			segments = assistantSegments(msg)
		default:
			return nil, fmt.Errorf("message %s: unknown role %q", msg.ID, msg.Role)
		}
		if len(segments) == 0 {
			continue
		}
		blocks = append(blocks, ContextBlock{Role: msg.Role, Segments: segments})
	}
	return blocks, nil
}

func userSegments(fsys afero.Fs, msg *types.Message) []Segment {
	var segments []Segment
	if status := sysstatus.Render(msg.Metadata); status != "" {
		segments = append(segments, Segment{Type: SegmentText, Text: status})
	}
	if todos := RenderTodos(msg.TodoSnapshot); todos != "" {
		segments = append(segments, Segment{Type: SegmentText, Text: todos})
	}

	for _, part := range msg.Parts {
		if p, ok := part.(*types.TextPart); ok && p.Content != "" {
			segments = append(segments, Segment{Type: SegmentText, Text: p.Content})
		}
	}

	for _, att := range msg.Attachments {
		seg, err := attachmentSegment(fsys, att)
		if err != nil {
			logging.Warn().Err(err).
				Str("messageID", msg.ID).
				Str("path", att.Path).
				Msg("Skipping unreadable attachment")
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

func attachmentSegment(fsys afero.Fs, att types.FileAttachment) (Segment, error) {
	info, err := fsys.Stat(att.Path)
	if err != nil {
		return Segment{}, err
	}
	if info.IsDir() {
		return Segment{}, fmt.Errorf("%s is a directory", att.Path)
	}
	if info.Size() > MaxAttachmentSize {
		return Segment{}, fmt.Errorf("%s is larger than %d bytes", att.Path, MaxAttachmentSize)
	}

	data, err := afero.ReadFile(fsys, att.Path)
	if err != nil {
		return Segment{}, err
	}

	mime := mimetype.Detect(data)
	mediaType := att.MIMEType
	if mediaType == "" {
		mediaType, _, _ = strings.Cut(mime.String(), ";")
	}

	name := att.RelativePath
	if name == "" {
		name = filepath.Base(att.Path)
	}

	seg := Segment{Type: SegmentFile, Path: name, MIMEType: mediaType}
	if isTextMIME(mime) {
		seg.Text = string(data)
	} else {
		seg.Data = base64.StdEncoding.EncodeToString(data)
	}
	return seg, nil
}

func isTextMIME(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func assistantSegments(msg *types.Message) []Segment {
	var segments []Segment
	var failure string
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case *types.ReasoningPart:
			if p.Content != "" {
				segments = append(segments, Segment{Type: SegmentReasoning, Text: p.Content})
			}
		case *types.TextPart:
			if p.Content != "" {
				segments = append(segments, Segment{Type: SegmentText, Text: p.Content})
			}
		case *types.ToolPart:
			segments = append(segments, Segment{
				Type:       SegmentToolCall,
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName,
				Args:       p.Input,
			})
			switch {
			case p.Result != nil:
				segments = append(segments, Segment{
					Type:       SegmentToolResult,
					ToolCallID: p.ToolCallID,
					ToolName:   p.ToolName,
					Text:       *p.Result,
				})
			case p.Error != nil:
				segments = append(segments, Segment{
					Type:       SegmentToolResult,
					ToolCallID: p.ToolCallID,
					ToolName:   p.ToolName,
					Text:       "Error: " + *p.Error,
					IsError:    true,
				})
			}
		case *types.ErrorPart:
			failure = p.Error
		}
	}

	switch msg.Status {
	case types.MessageAbort:
		segments = append(segments, Segment{
			Type: SegmentText,
			Text: "[This response was interrupted by the user before it finished.]",
		})
	case types.MessageError:
		note := "[This response ended with an error before it finished.]"
		if failure != "" {
			note = fmt.Sprintf("[This response ended with an error before it finished: %s]", failure)
		}
		segments = append(segments, Segment{Type: SegmentText, Text: note})
	}
	return segments
}

// ToEinoMessages converts context blocks into eino messages, preceded by a
// system message when system is not empty.
//
// Assistant blocks are split at every tool round trip: the calls go on an
// assistant message, followed by one tool message per call. Calls without a
// recorded result get a synthetic one so providers accept the history.
// Reasoning segments are not sent back.
func ToEinoMessages(system string, blocks []ContextBlock) []*schema.Message {
	var out []*schema.Message
	if system != "" {
		out = append(out, schema.SystemMessage(system))
	}

	for _, block := range blocks {
		switch block.Role {
		case types.RoleUser:
			out = append(out, userMessage(block.Segments))
		case types.RoleAssistant:
			out = append(out, assistantMessages(block.Segments)...)
		}
	}
	return out
}

func userMessage(segments []Segment) *schema.Message {
	var texts []string
	var images []schema.ChatMessagePart
	for _, seg := range segments {
		switch seg.Type {
		case SegmentText:
			texts = append(texts, seg.Text)
		case SegmentFile:
			switch {
			case seg.Data == "":
				texts = append(texts, fmt.Sprintf("<file path=%q>\n%s\n</file>", seg.Path, seg.Text))
			case strings.HasPrefix(seg.MIMEType, "image/"):
				texts = append(texts, fmt.Sprintf("[Attached image: %s]", seg.Path))
				images = append(images, schema.ChatMessagePart{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", seg.MIMEType, seg.Data),
					},
				})
			default:
				texts = append(texts, fmt.Sprintf("[Attached binary file: %s (%s)]", seg.Path, seg.MIMEType))
			}
		}
	}

	content := strings.Join(texts, "\n\n")
	if len(images) == 0 {
		return schema.UserMessage(content)
	}

	parts := append([]schema.ChatMessagePart{{Type: schema.ChatMessagePartTypeText, Text: content}}, images...)
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

type assistantTurn struct {
	content strings.Builder
	calls   []schema.ToolCall
	results map[string]string
}

func (t *assistantTurn) empty() bool {
	return t.content.Len() == 0 && len(t.calls) == 0
}

func (t *assistantTurn) messages() []*schema.Message {
	if t.empty() {
		return nil
	}
	msgs := []*schema.Message{schema.AssistantMessage(t.content.String(), t.calls)}
	for _, call := range t.calls {
		result, ok := t.results[call.ID]
		if !ok {
			result = interruptedToolResult
		}
		msgs = append(msgs, &schema.Message{
			Role:       schema.Tool,
			Content:    result,
			ToolCallID: call.ID,
		})
	}
	return msgs
}

func assistantMessages(segments []Segment) []*schema.Message {
	var out []*schema.Message
	turn := &assistantTurn{results: map[string]string{}}

	for _, seg := range segments {
		switch seg.Type {
		case SegmentText:
			if len(turn.calls) > 0 {
				out = append(out, turn.messages()...)
				turn = &assistantTurn{results: map[string]string{}}
			}
			if turn.content.Len() > 0 {
				turn.content.WriteString("\n\n")
			}
			turn.content.WriteString(seg.Text)
		case SegmentToolCall:
			args := seg.Args
			if args == "" {
				args = "{}"
			}
			turn.calls = append(turn.calls, schema.ToolCall{
				ID:   seg.ToolCallID,
				Type: "function",
				Function: schema.FunctionCall{
					Name:      seg.ToolName,
					Arguments: args,
				},
			})
		case SegmentToolResult:
			turn.results[seg.ToolCallID] = seg.Text
		}
	}
	return append(out, turn.messages()...)
}
