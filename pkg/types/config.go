package types

// Config represents the streamd configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Default model for new sessions, "provider/model"
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Provider configs keyed by provider id
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Tool enable/disable by name
	Tools map[string]bool `json:"tools,omitempty" yaml:"tools,omitempty"`

	// Additional instruction files appended to the system prompt
	Instructions []string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	Server  *ServerConfig  `json:"server,omitempty" yaml:"server,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// ProviderConfig holds configuration for a specific provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	MaxTokens int `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`

	Disable bool `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
}

// StorageConfig holds Session Store settings.
type StorageConfig struct {
	// Path to the SQLite database file
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Model represents an LLM model available from a provider.
type Model struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ProviderID        string `json:"providerID"`
	ContextLength     int    `json:"contextLength"`
	MaxOutputTokens   int    `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool   `json:"supportsTools"`
	SupportsVision    bool   `json:"supportsVision"`
	SupportsReasoning bool   `json:"supportsReasoning,omitempty"`
}
