package models

import "time"

// ConversationEntry records which specialist agent is currently serving a
// customer. Keyed by customer_id, not thread_id: clients may rotate thread
// ids across turns, but a continuation ("yes, confirm") must reach the agent
// that asked the question. The stored ThreadID is forwarded to the agent so
// it can resume its own session.
type ConversationEntry struct {
	CustomerID    string    `json:"customer_id"`
	AgentName     string    `json:"agent_name"`
	AgentEndpoint string    `json:"agent_endpoint"`
	ThreadID      string    `json:"thread_id"`
	LastActivity  time.Time `json:"last_activity"`
	MessageCount  int       `json:"message_count"`
}
