package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/streamd/pkg/types"
)

// ErrNoAsker is returned by the question tool when no one is available to answer.
var ErrNoAsker = errors.New("no interactive user available to answer questions")

const questionDescription = `Asks the user one or more questions and waits for the answers.

Usage:
- Use when requirements are ambiguous and a wrong guess would waste work
- Each question may offer a list of suggested options
- Keep questions short and specific`

// Question is a single question put to the user.
type Question = types.Question

// Asker collects answers from the user. Answers are returned in question order.
type Asker interface {
	Ask(ctx context.Context, call Call, questions []Question) ([]string, error)
}

// AskerFunc adapts a function to Asker.
type AskerFunc func(ctx context.Context, call Call, questions []Question) ([]string, error)

func (f AskerFunc) Ask(ctx context.Context, call Call, questions []Question) ([]string, error) {
	return f(ctx, call, questions)
}

type questionInput struct {
	Questions []Question `json:"questions" validate:"required,min=1,dive" jsonschema_description:"Questions to ask the user"`
}

// NewQuestionTool creates the question tool. A nil asker makes every call
// fail with ErrNoAsker.
func NewQuestionTool(asker Asker) Tool {
	return Define(QuestionToolName, questionDescription, func(ctx context.Context, call Call, in questionInput) (Result, error) {
		if asker == nil {
			return Result{}, ErrNoAsker
		}

		answers, err := asker.Ask(ctx, call, in.Questions)
		if err != nil {
			return Result{}, fmt.Errorf("ask user: %w", err)
		}

		var sb strings.Builder
		for i, q := range in.Questions {
			answer := "(no answer)"
			if i < len(answers) && answers[i] != "" {
				answer = answers[i]
			}
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", q.Question, answer)
		}

		return Result{
			Title:  fmt.Sprintf("Asked %d question(s)", len(in.Questions)),
			Output: sb.String(),
			Metadata: map[string]any{
				"answers": answers,
			},
		}, nil
	})
}
