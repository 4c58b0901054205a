package lead

import "time"

// Signal is contact information heuristically detected in one user message.
// It is derived data: losing or duplicating one never affects the chat turn.
type Signal struct {
	SessionID  string    `json:"sessionId"`
	MessageID  string    `json:"messageId"`
	EmbedID    string    `json:"embedId,omitempty"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	SourceText string    `json:"sourceText"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Empty reports whether the signal carries no contact field at all.
func (s Signal) Empty() bool {
	return s.Name == "" && s.Email == "" && s.Phone == ""
}
