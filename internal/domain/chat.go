package domain

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the roles accepted by the completion endpoint.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and the OpenRouter integration. Slices of ChatMessage are in chronological order.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
