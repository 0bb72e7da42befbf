package storage

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/opencode-ai/streamd/pkg/types"
)

type todoRow struct {
	ID         int    `db:"id"`
	Content    string `db:"content"`
	ActiveForm string `db:"active_form"`
	Status     string `db:"status"`
	Ordering   int    `db:"ordering"`
}

// GetTodos returns the todo list of a session ordered by ordering key.
func (s *Store) GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	var rows []todoRow
	if err := sqlscan.Select(ctx, s.db, &rows,
		`SELECT id, content, active_form, status, ordering FROM todos WHERE session_id = ? ORDER BY ordering, id`, sessionID); err != nil {
		return nil, err
	}
	todos := make([]types.Todo, 0, len(rows))
	for _, r := range rows {
		todos = append(todos, types.Todo{
			ID:         r.ID,
			Content:    r.Content,
			ActiveForm: r.ActiveForm,
			Status:     types.TodoStatus(r.Status),
			Ordering:   r.Ordering,
		})
	}
	return todos, nil
}

// UpdateTodos replaces the todo list and the next-id counter of a session.
func (s *Store) UpdateTodos(ctx context.Context, sessionID string, todos []types.Todo, nextTodoID int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET next_todo_id = ?, updated = ? WHERE id = ?`, nextTodoID, now(), sessionID)
		if err != nil {
			return err
		}
		if err := requireAffected(res, "session", sessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		for _, t := range todos {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO todos (session_id, id, content, active_form, status, ordering) VALUES (?, ?, ?, ?, ?, ?)`,
				sessionID, t.ID, t.Content, t.ActiveForm, string(t.Status), t.Ordering); err != nil {
				return err
			}
		}
		return nil
	})
}
