package types

// TodoStatus is the progress state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
	TodoRemoved    TodoStatus = "removed"
)

// Valid reports whether s is a known status.
func (s TodoStatus) Valid() bool {
	switch s {
	case TodoPending, TodoInProgress, TodoCompleted, TodoRemoved:
		return true
	}
	return false
}

// Todo is a task list entry of a session.
type Todo struct {
	ID         int        `json:"id"`
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TodoStatus `json:"status"`
	Ordering   int        `json:"ordering"`
}
