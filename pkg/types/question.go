package types

// Question is a single question the model puts to the user.
type Question struct {
	Question string   `json:"question" validate:"required" jsonschema_description:"The question to ask"`
	Options  []string `json:"options,omitempty" jsonschema_description:"Suggested answers"`
}

// PendingQuestion is a question call waiting for the user's answers.
type PendingQuestion struct {
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	CallID    string     `json:"callID"`
	Questions []Question `json:"questions"`
	Time      int64      `json:"time"`
}
