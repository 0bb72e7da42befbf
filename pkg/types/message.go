package types

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageStatus is the lifecycle status of a message.
type MessageStatus string

const (
	MessageActive    MessageStatus = "active"
	MessageCompleted MessageStatus = "completed"
	MessageError     MessageStatus = "error"
	MessageAbort     MessageStatus = "abort"
)

// Terminal reports whether the status is final.
func (s MessageStatus) Terminal() bool {
	return s == MessageCompleted || s == MessageError || s == MessageAbort
}

// Message is one turn of a session.
type Message struct {
	ID           string           `json:"id"`
	SessionID    string           `json:"sessionID"`
	Role         MessageRole      `json:"role"`
	Ordering     int              `json:"ordering"`
	Status       MessageStatus    `json:"status"`
	Parts        []Part           `json:"parts"`
	Usage        *Usage           `json:"usage,omitempty"`
	FinishReason string           `json:"finishReason,omitempty"`
	Metadata     *SystemStatus    `json:"metadata,omitempty"`
	Attachments  []FileAttachment `json:"attachments,omitempty"`
	TodoSnapshot []Todo           `json:"todoSnapshot,omitempty"`
	Time         int64            `json:"time"`
}

// Usage holds token counts for a message.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add returns the sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// FileAttachment is a file sent along with a user message.
type FileAttachment struct {
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	Size         *int64 `json:"size,omitempty"`
	MIMEType     string `json:"mimeType,omitempty"`
}

// SystemStatus is a point-in-time snapshot of host resource usage.
type SystemStatus struct {
	CPUPercent  float64 `json:"cpuPercent"`
	CPUCores    int     `json:"cpuCores"`
	MemoryUsed  uint64  `json:"memoryUsed"`
	MemoryTotal uint64  `json:"memoryTotal"`
	CapturedAt  int64   `json:"capturedAt"`
}
