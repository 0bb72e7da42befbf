package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opencode-ai/streamd/pkg/types"
)

const todowriteDescription = `Use this tool to create and manage a structured task list for the current session. This helps you track progress and organize complex tasks, and shows the user how the work is going.

## When to Use This Tool
1. Complex multi-step tasks that need 3 or more distinct steps
2. The user explicitly asks for a todo list
3. The user provides multiple tasks
4. After receiving new instructions, to capture requirements
5. When you start a task, mark it in_progress BEFORE beginning work
6. After completing a task, mark it completed and add follow-ups

## When NOT to Use This Tool
Skip it for a single straightforward task, trivial work, or purely conversational requests.

## Task States
- pending: not yet started
- in_progress: currently being worked on (at most ONE at a time)
- completed: finished successfully
- removed: no longer relevant

Send the complete list every time, in display order. Keep the id of existing items; omit the id for new ones.`

const todoreadDescription = `Reads the current task list for the session.`

// TodoStore reads and replaces a session's todo list.
type TodoStore interface {
	Todos(ctx context.Context, sessionID string) ([]types.Todo, error)
	UpdateTodos(ctx context.Context, sessionID string, todos []types.Todo) ([]types.Todo, error)
}

type todoItem struct {
	ID         int    `json:"id,omitempty" validate:"gte=0" jsonschema_description:"Id of an existing item; omit for new items"`
	Content    string `json:"content" validate:"required" jsonschema_description:"Imperative description of the task"`
	ActiveForm string `json:"activeForm" validate:"required" jsonschema_description:"Present continuous form shown while the task is in progress"`
	Status     string `json:"status" validate:"required,oneof=pending in_progress completed removed" jsonschema:"enum=pending,enum=in_progress,enum=completed,enum=removed" jsonschema_description:"Task status"`
}

type todoWriteInput struct {
	Todos []todoItem `json:"todos" validate:"dive" jsonschema_description:"The complete updated todo list"`
}

type todoReadInput struct{}

// NewTodoWriteTool creates the todowrite tool backed by store.
func NewTodoWriteTool(store TodoStore) Tool {
	return Define(TodoWriteToolName, todowriteDescription, func(ctx context.Context, call Call, in todoWriteInput) (Result, error) {
		todos := make([]types.Todo, len(in.Todos))
		for i, item := range in.Todos {
			todos[i] = types.Todo{
				ID:         item.ID,
				Content:    item.Content,
				ActiveForm: item.ActiveForm,
				Status:     types.TodoStatus(item.Status),
			}
		}

		updated, err := store.UpdateTodos(ctx, call.SessionID, todos)
		if err != nil {
			return Result{}, err
		}
		return todoResult(updated)
	})
}

// NewTodoReadTool creates the todoread tool backed by store.
func NewTodoReadTool(store TodoStore) Tool {
	return Define(TodoReadToolName, todoreadDescription, func(ctx context.Context, call Call, _ todoReadInput) (Result, error) {
		todos, err := store.Todos(ctx, call.SessionID)
		if err != nil {
			return Result{}, err
		}
		return todoResult(todos)
	})
}

func todoResult(todos []types.Todo) (Result, error) {
	visible := make([]types.Todo, 0, len(todos))
	pending := 0
	for _, t := range todos {
		if t.Status == types.TodoRemoved {
			continue
		}
		visible = append(visible, t)
		if t.Status != types.TodoCompleted {
			pending++
		}
	}

	data, err := json.MarshalIndent(visible, "", "  ")
	if err != nil {
		return Result{}, err
	}
	return Result{
		Title:  fmt.Sprintf("%d todos", pending),
		Output: string(data),
		Metadata: map[string]any{
			"todos": visible,
		},
	}, nil
}
