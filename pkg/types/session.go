// Package types provides the core data types shared by the streamd packages.
package types

// Session represents a persisted conversation with one provider/model pair.
type Session struct {
	ID         string      `json:"id"`
	ProviderID string      `json:"providerID"`
	ModelID    string      `json:"modelID"`
	Title      string      `json:"title"`
	Directory  string      `json:"directory"`
	NextTodoID int         `json:"nextTodoID"`
	Time       SessionTime `json:"time"`
}

// SessionTime contains timestamps for a session.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// Model returns the "provider/model" reference of the session.
func (s *Session) Model() ModelRef {
	return ModelRef{ProviderID: s.ProviderID, ModelID: s.ModelID}
}

// ModelRef references a specific model of a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// String renders the reference as "provider/model".
func (m ModelRef) String() string {
	return m.ProviderID + "/" + m.ModelID
}
