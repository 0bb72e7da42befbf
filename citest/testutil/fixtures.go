package testutil

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opencode-ai/streamd/pkg/types"
)

// WriteFile creates name under dir with content, making parent directories.
func WriteFile(dir, name, content string) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// SessionManager tracks sessions created by a test for cleanup.
type SessionManager struct {
	client   *TestClient
	sessions []string
}

// NewSessionManager creates a session manager.
func NewSessionManager(client *TestClient) *SessionManager {
	return &SessionManager{client: client}
}

// Create creates a session and tracks it for cleanup.
func (m *SessionManager) Create(ctx context.Context, dir, title string) (*types.Session, error) {
	session, err := m.client.CreateSession(ctx, dir, title)
	if err != nil {
		return nil, err
	}
	m.sessions = append(m.sessions, session.ID)
	return session, nil
}

// Cleanup deletes all tracked sessions.
func (m *SessionManager) Cleanup(ctx context.Context) {
	for _, id := range m.sessions {
		_ = m.client.DeleteSession(ctx, id)
	}
	m.sessions = m.sessions[:0]
}

// ToolParts returns the tool parts of a message.
func ToolParts(m types.Message) []*types.ToolPart {
	var parts []*types.ToolPart
	for _, p := range m.Parts {
		if tp, ok := p.(*types.ToolPart); ok {
			parts = append(parts, tp)
		}
	}
	return parts
}

// MessageText concatenates the text parts of a message.
func MessageText(m types.Message) string {
	var text string
	for _, p := range m.Parts {
		if tp, ok := p.(*types.TextPart); ok {
			text += tp.Content
		}
	}
	return text
}
