package chat

import (
	"errors"
	"time"
)

// ErrSessionRequired is returned when a write names no session.
var ErrSessionRequired = errors.New("session id is required")

// SessionRef names the conversation a message belongs to. EmbedID and
// ClientUserID are recorded once, when the session's first message lands.
type SessionRef struct {
	ID           string
	EmbedID      string
	ClientUserID string
}

// Session is the durable record created by the first message of a conversation.
type Session struct {
	ID           string    `json:"id"`
	EmbedID      string    `json:"embedId"`
	ClientUserID string    `json:"clientUserId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Summary describes a session in the per-user chat list.
type Summary struct {
	SessionID           string    `json:"sessionId"`
	EmbedID             string    `json:"embedId"`
	FirstMessagePreview string    `json:"firstMessagePreview"`
	LastMessage         string    `json:"lastMessage"`
	LastMessageSender   Role      `json:"lastMessageSender"`
	LastInteractionAt   time.Time `json:"lastInteractionAt"`
	CreatedAt           time.Time `json:"createdAt"`
}

const previewRunes = 100

// Summarize builds a Summary from a session and its ordered history. It
// returns false when the history is empty.
func Summarize(session Session, history []Message) (Summary, bool) {
	if len(history) == 0 {
		return Summary{}, false
	}

	first := history[0]
	for _, msg := range history {
		if msg.Role == RoleUser {
			first = msg
			break
		}
	}

	last := history[len(history)-1]
	lastAt := last.CreatedAt
	for _, msg := range history {
		if msg.UpdatedAt != nil && msg.UpdatedAt.After(lastAt) {
			lastAt = *msg.UpdatedAt
		}
	}

	return Summary{
		SessionID:           session.ID,
		EmbedID:             session.EmbedID,
		FirstMessagePreview: Preview(first.Content),
		LastMessage:         last.Content,
		LastMessageSender:   last.Role,
		LastInteractionAt:   lastAt,
		CreatedAt:           session.CreatedAt,
	}, true
}

// Preview truncates text to the preview length on a rune boundary.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}
