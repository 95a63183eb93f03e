package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationTurn is one message of a session history in chronological order
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
