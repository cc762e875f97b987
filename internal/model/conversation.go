package model

// ConversationTurn is one prior exchange entry used by conversational mode.
// Role is "user" or "assistant".
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
