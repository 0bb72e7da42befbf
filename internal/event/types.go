package event

import "github.com/opencode-ai/streamd/pkg/types"

// SessionInfo is the payload of session.created, session.updated and session.deleted.
type SessionInfo struct {
	Info *types.Session `json:"info"`
}

// SessionIdleData is the payload of session.idle, sent when a stream settles.
type SessionIdleData struct {
	SessionID string              `json:"sessionID"`
	MessageID string              `json:"messageID,omitempty"`
	Status    types.MessageStatus `json:"status,omitempty"`
}

// MessageInfo is the payload of message.created and message.updated.
type MessageInfo struct {
	Info *types.Message `json:"info"`
}

// TodoUpdatedData is the payload of todo.updated.
type TodoUpdatedData struct {
	SessionID string       `json:"sessionID"`
	Todos     []types.Todo `json:"todos"`
}

// VCSBranchData is the payload of vcs.branch.updated.
type VCSBranchData struct {
	Directory string `json:"directory"`
	Branch    string `json:"branch"`
}

// QuestionAskedData is the payload of question.asked.
type QuestionAskedData struct {
	Question types.PendingQuestion `json:"question"`
}

// QuestionRepliedData is the payload of question.replied.
type QuestionRepliedData struct {
	SessionID string   `json:"sessionID"`
	CallID    string   `json:"callID"`
	Answers   []string `json:"answers"`
}
