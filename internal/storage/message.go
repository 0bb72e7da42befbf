package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/opencode-ai/streamd/pkg/types"
)

// AddMessageParams describes a message to append to a session.
// Status defaults to completed.
type AddMessageParams struct {
	Role         types.MessageRole
	Parts        []types.Part
	Attachments  []types.FileAttachment
	Usage        *types.Usage
	FinishReason string
	Metadata     *types.SystemStatus
	TodoSnapshot []types.Todo
	Status       types.MessageStatus
}

type messageRow struct {
	ID           string         `db:"id"`
	SessionID    string         `db:"session_id"`
	Role         string         `db:"role"`
	Ordering     int            `db:"ordering"`
	Status       string         `db:"status"`
	FinishReason sql.NullString `db:"finish_reason"`
	Metadata     sql.NullString `db:"metadata"`
	Timestamp    int64          `db:"timestamp"`
}

type partRow struct {
	MessageID string `db:"message_id"`
	Content   string `db:"content"`
}

type usageRow struct {
	MessageID        string `db:"message_id"`
	PromptTokens     int    `db:"prompt_tokens"`
	CompletionTokens int    `db:"completion_tokens"`
	TotalTokens      int    `db:"total_tokens"`
}

type attachmentRow struct {
	MessageID    string        `db:"message_id"`
	Path         string        `db:"path"`
	RelativePath string        `db:"relative_path"`
	Size         sql.NullInt64 `db:"size"`
	MIMEType     string        `db:"mime_type"`
}

type snapshotRow struct {
	MessageID  string `db:"message_id"`
	TodoID     int    `db:"todo_id"`
	Content    string `db:"content"`
	ActiveForm string `db:"active_form"`
	Status     string `db:"status"`
	Ordering   int    `db:"ordering"`
}

const messageColumns = `m.id, m.session_id, m.role, m.ordering, m.status, m.finish_reason, m.metadata, m.timestamp`

// AddMessage appends a message to a session and returns its id.
// The ordering index is assigned inside the same transaction.
func (s *Store) AddMessage(ctx context.Context, sessionID string, p AddMessageParams) (string, error) {
	if p.Status == "" {
		p.Status = types.MessageCompleted
	}

	var metadata sql.NullString
	if p.Metadata != nil {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	id := newID()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := touchSession(ctx, tx, sessionID); err != nil {
			return err
		}

		var ordering int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(ordering), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&ordering); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, ordering, status, finish_reason, metadata, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, sessionID, string(p.Role), ordering, string(p.Status), nullString(p.FinishReason), metadata, now()); err != nil {
			return err
		}

		if err := writeParts(ctx, tx, id, p.Parts); err != nil {
			return err
		}
		if p.Usage != nil {
			if err := writeUsage(ctx, tx, id, *p.Usage); err != nil {
				return err
			}
		}
		for _, a := range p.Attachments {
			var size sql.NullInt64
			if a.Size != nil {
				size = sql.NullInt64{Int64: *a.Size, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO message_attachments (message_id, path, relative_path, size, mime_type) VALUES (?, ?, ?, ?, ?)`,
				id, a.Path, a.RelativePath, size, a.MIMEType); err != nil {
				return err
			}
		}
		for _, t := range p.TodoSnapshot {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO message_todo_snapshots (message_id, todo_id, content, active_form, status, ordering) VALUES (?, ?, ?, ?, ?, ?)`,
				id, t.ID, t.Content, t.ActiveForm, string(t.Status), t.Ordering); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateMessageParts replaces the parts of a message.
func (s *Store) UpdateMessageParts(ctx context.Context, messageID string, parts []types.Part) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := messageExists(ctx, tx, messageID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM message_parts WHERE message_id = ?`, messageID); err != nil {
			return err
		}
		return writeParts(ctx, tx, messageID, parts)
	})
}

// UpdateMessageStatus sets the status of a message.
func (s *Store) UpdateMessageStatus(ctx context.Context, messageID string, status types.MessageStatus) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status = ? WHERE id = ?`, string(status), messageID)
		if err != nil {
			return err
		}
		return requireAffected(res, "message", messageID)
	})
}

// UpdateMessageFinishReason records why the provider stopped. An empty
// reason keeps the stored one.
func (s *Store) UpdateMessageFinishReason(ctx context.Context, messageID, finishReason string) error {
	return s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET finish_reason = COALESCE(?, finish_reason) WHERE id = ?`,
			nullString(finishReason), messageID)
		if err != nil {
			return err
		}
		return requireAffected(res, "message", messageID)
	})
}

// UpdateMessageUsage stores token usage for a message.
func (s *Store) UpdateMessageUsage(ctx context.Context, messageID string, usage types.Usage) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := messageExists(ctx, tx, messageID); err != nil {
			return err
		}
		return writeUsage(ctx, tx, messageID, usage)
	})
}

// GetMessage returns a fully hydrated message or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.Message, error) {
	var row messageRow
	err := sqlscan.Get(ctx, s.db, &row, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ?`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
		}
		return nil, err
	}
	msgs, err := s.hydrate(ctx, []messageRow{row}, `m.id = ?`, messageID)
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// GetMessages returns the messages of a session in order.
func (s *Store) GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	if _, err := s.GetSessionByID(ctx, sessionID); err != nil {
		return nil, err
	}

	var rows []messageRow
	if err := sqlscan.Select(ctx, s.db, &rows,
		`SELECT `+messageColumns+` FROM messages m WHERE m.session_id = ? ORDER BY m.ordering`, sessionID); err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rows, `m.session_id = ?`, sessionID)
}

// CountActiveMessages returns how many messages of the session are active.
func (s *Store) CountActiveMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND status = ?`, sessionID, string(types.MessageActive)).Scan(&n)
	return n, err
}

// RecoverActiveMessages marks messages left active by a previous process as errored.
func (s *Store) RecoverActiveMessages(ctx context.Context) (int64, error) {
	var n int64
	err := s.retry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE messages SET status = ? WHERE status = ?`, string(types.MessageError), string(types.MessageActive))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// hydrate loads parts, usage, attachments and snapshots for the given rows.
// where/arg select the same message set the rows came from.
func (s *Store) hydrate(ctx context.Context, rows []messageRow, where string, arg any) ([]*types.Message, error) {
	msgs := make([]*types.Message, 0, len(rows))
	byID := make(map[string]*types.Message, len(rows))
	for _, r := range rows {
		m := &types.Message{
			ID:           r.ID,
			SessionID:    r.SessionID,
			Role:         types.MessageRole(r.Role),
			Ordering:     r.Ordering,
			Status:       types.MessageStatus(r.Status),
			FinishReason: r.FinishReason.String,
			Parts:        []types.Part{},
			Time:         r.Timestamp,
		}
		if r.Metadata.Valid {
			var status types.SystemStatus
			if err := json.Unmarshal([]byte(r.Metadata.String), &status); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
			}
			m.Metadata = &status
		}
		msgs = append(msgs, m)
		byID[m.ID] = m
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	var parts []partRow
	if err := sqlscan.Select(ctx, s.db, &parts,
		`SELECT p.message_id, p.content FROM message_parts p JOIN messages m ON m.id = p.message_id
		 WHERE `+where+` ORDER BY m.ordering, p.ordering`, arg); err != nil {
		return nil, err
	}
	for _, pr := range parts {
		part, err := types.UnmarshalPart([]byte(pr.Content))
		if err != nil {
			return nil, fmt.Errorf("decode part of %s: %w", pr.MessageID, err)
		}
		if m := byID[pr.MessageID]; m != nil {
			m.Parts = append(m.Parts, part)
		}
	}

	var usages []usageRow
	if err := sqlscan.Select(ctx, s.db, &usages,
		`SELECT u.message_id, u.prompt_tokens, u.completion_tokens, u.total_tokens FROM message_usage u
		 JOIN messages m ON m.id = u.message_id WHERE `+where, arg); err != nil {
		return nil, err
	}
	for _, u := range usages {
		if m := byID[u.MessageID]; m != nil {
			m.Usage = &types.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
		}
	}

	var attachments []attachmentRow
	if err := sqlscan.Select(ctx, s.db, &attachments,
		`SELECT a.message_id, a.path, a.relative_path, a.size, a.mime_type FROM message_attachments a
		 JOIN messages m ON m.id = a.message_id WHERE `+where+` ORDER BY a.id`, arg); err != nil {
		return nil, err
	}
	for _, a := range attachments {
		m := byID[a.MessageID]
		if m == nil {
			continue
		}
		att := types.FileAttachment{Path: a.Path, RelativePath: a.RelativePath, MIMEType: a.MIMEType}
		if a.Size.Valid {
			size := a.Size.Int64
			att.Size = &size
		}
		m.Attachments = append(m.Attachments, att)
	}

	var snapshots []snapshotRow
	if err := sqlscan.Select(ctx, s.db, &snapshots,
		`SELECT t.message_id, t.todo_id, t.content, t.active_form, t.status, t.ordering FROM message_todo_snapshots t
		 JOIN messages m ON m.id = t.message_id WHERE `+where+` ORDER BY t.ordering, t.todo_id`, arg); err != nil {
		return nil, err
	}
	for _, t := range snapshots {
		if m := byID[t.MessageID]; m != nil {
			m.TodoSnapshot = append(m.TodoSnapshot, types.Todo{
				ID:         t.TodoID,
				Content:    t.Content,
				ActiveForm: t.ActiveForm,
				Status:     types.TodoStatus(t.Status),
				Ordering:   t.Ordering,
			})
		}
	}

	return msgs, nil
}

func messageExists(ctx context.Context, tx *sql.Tx, messageID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return err
}

func writeParts(ctx context.Context, tx *sql.Tx, messageID string, parts []types.Part) error {
	for i, p := range parts {
		id, content, err := encodePart(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO message_parts (message_id, ordering, id, type, content) VALUES (?, ?, ?, ?, ?)`,
			messageID, i, id, p.PartType(), content); err != nil {
			return err
		}
	}
	return nil
}

func writeUsage(ctx context.Context, tx *sql.Tx, messageID string, u types.Usage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO message_usage (message_id, prompt_tokens, completion_tokens, total_tokens) VALUES (?, ?, ?, ?)
		 ON CONFLICT (message_id) DO UPDATE SET prompt_tokens = excluded.prompt_tokens,
		 completion_tokens = excluded.completion_tokens, total_tokens = excluded.total_tokens`,
		messageID, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	return err
}

// encodePart serializes a part with its type tag and id filled in.
func encodePart(p types.Part) (string, string, error) {
	var v any
	id := p.PartID()
	if id == "" {
		id = newID()
	}
	switch part := p.(type) {
	case *types.TextPart:
		c := *part
		c.ID, c.Type = id, types.PartTypeText
		v = c
	case *types.ReasoningPart:
		c := *part
		c.ID, c.Type = id, types.PartTypeReasoning
		v = c
	case *types.ToolPart:
		c := *part
		c.ID, c.Type = id, types.PartTypeTool
		v = c
	case *types.ErrorPart:
		c := *part
		c.ID, c.Type = id, types.PartTypeError
		v = c
	default:
		return "", "", fmt.Errorf("unsupported part type %T", p)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	return id, string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
