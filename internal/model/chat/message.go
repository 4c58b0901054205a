package chat

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one side of a turn as persisted in session history.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Same reports whether two messages carry the same identity, role and content.
func (m Message) Same(other Message) bool {
	return m.ID == other.ID && m.Role == other.Role && m.Content == other.Content
}
