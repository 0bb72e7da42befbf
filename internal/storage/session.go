package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/opencode-ai/streamd/pkg/types"
)

type sessionRow struct {
	ID         string `db:"id"`
	Provider   string `db:"provider"`
	Model      string `db:"model"`
	Title      string `db:"title"`
	Directory  string `db:"directory"`
	NextTodoID int    `db:"next_todo_id"`
	Created    int64  `db:"created"`
	Updated    int64  `db:"updated"`
}

func (r *sessionRow) toSession() *types.Session {
	return &types.Session{
		ID:         r.ID,
		ProviderID: r.Provider,
		ModelID:    r.Model,
		Title:      r.Title,
		Directory:  r.Directory,
		NextTodoID: r.NextTodoID,
		Time:       types.SessionTime{Created: r.Created, Updated: r.Updated},
	}
}

const sessionColumns = `id, provider, model, title, directory, next_todo_id, created, updated`

// CreateSession inserts a session, assigning its id and timestamps when unset.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if session.ID == "" {
		session.ID = newID()
	}
	if session.NextTodoID == 0 {
		session.NextTodoID = 1
	}
	ts := now()
	if session.Time.Created == 0 {
		session.Time.Created = ts
	}
	session.Time.Updated = ts

	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.ProviderID, session.ModelID, session.Title, session.Directory,
			session.NextTodoID, session.Time.Created, session.Time.Updated)
		return err
	})
}

// GetSessionByID returns the session or ErrNotFound.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*types.Session, error) {
	return getSession(ctx, s.db, id)
}

func getSession(ctx context.Context, q sqlscan.Querier, id string) (*types.Session, error) {
	var row sessionRow
	err := sqlscan.Get(ctx, q, &row, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return row.toSession(), nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]*types.Session, error) {
	var rows []sessionRow
	if err := sqlscan.Select(ctx, s.db, &rows, `SELECT `+sessionColumns+` FROM sessions ORDER BY updated DESC, id DESC`); err != nil {
		return nil, err
	}
	out := make([]*types.Session, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSession())
	}
	return out, nil
}

// UpdateSession persists title, provider and model changes.
// History is never rewritten; only later turns use the new model.
func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	session.Time.Updated = now()
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET title = ?, provider = ?, model = ?, directory = ?, updated = ? WHERE id = ?`,
			session.Title, session.ProviderID, session.ModelID, session.Directory, session.Time.Updated, session.ID)
		if err != nil {
			return err
		}
		return requireAffected(res, "session", session.ID)
	})
}

// DeleteSession removes a session and everything it owns.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireAffected(res, "session", id)
	})
}

func touchSession(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET updated = ? WHERE id = ?`, now(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, "session", id)
}
