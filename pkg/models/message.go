package models

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn. The orchestrator passes messages
// through verbatim; only the last user message is ever inspected (by the
// continuation detector and the supervisor router).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationRequest is the body of POST /chat.
// ThreadID is opaque; when absent on the first turn the orchestrator derives
// "thread_{customer_id}" and echoes it back.
type ConversationRequest struct {
	Messages []Message `json:"messages"`
	ThreadID string    `json:"thread_id,omitempty"`
	Stream   bool      `json:"stream"`
}

// LastUserMessage returns the content of the most recent user message,
// or "" if the request contains none.
func (r *ConversationRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}
