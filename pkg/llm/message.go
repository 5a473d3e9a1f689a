package llm

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewSystemMessage returns a system message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage returns a user message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// ModelInfo describes the model behind a provider.
type ModelInfo struct {
	Provider          string                 `json:"provider"`
	Name              string                 `json:"name"`
	SupportsStreaming bool                   `json:"supports_streaming"`
	MaxTokens         int                    `json:"max_tokens"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// ContentType distinguishes reasoning output from the answer.
type ContentType string

const (
	ContentTypeMessage  ContentType = "message"
	ContentTypeThinking ContentType = "thinking"
)

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Content  string
	Type     ContentType
	Role     string
	Finished bool
	Error    error
}

// IsError reports whether the chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// IsThinking reports whether the chunk is reasoning output.
func (c *StreamChunk) IsThinking() bool {
	return c.Type == ContentTypeThinking
}
