// Package store declares the persistence boundary for session history and
// lead signals. Implementations live in internal/service/chat (memory) and
// internal/storage/badger (durable).
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
)

var (
	// ErrMessageNotFound is returned by UpdateMessage for an unknown id.
	ErrMessageNotFound = errors.New("message not found")
	// ErrLeadExists is returned by SaveLead when a lead for the same message
	// id was already recorded.
	ErrLeadExists = errors.New("lead already recorded for message")
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// HistoryStore persists chat messages one at a time. Implementations must be
// safe for concurrent use.
type HistoryStore interface {
	// AppendMessage stores msg in the session, replacing an existing message
	// with the same id. The session record is created by the first write.
	AppendMessage(ctx context.Context, ref chat.SessionRef, msg chat.Message) error
	// UpdateMessage replaces the content of an existing message. Writing the
	// content it already has is a no-op.
	UpdateMessage(ctx context.Context, sessionID, messageID, content string) error
	// LoadHistory returns the session's messages in persistence order.
	LoadHistory(ctx context.Context, sessionID string) ([]chat.Message, error)
	// DeleteHistory removes every message of the session. Deleting an
	// empty or unknown session succeeds.
	DeleteHistory(ctx context.Context, sessionID string) error
	// ListSessions returns summaries for one widget user, most recent first.
	ListSessions(ctx context.Context, embedID, clientUserID string, limit, offset int) ([]chat.Summary, error)
}

// LeadStore persists extracted contact signals.
type LeadStore interface {
	SaveLead(ctx context.Context, signal lead.Signal) error
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	HistoryStore
	LeadStore
}

// ClampPage normalises list paging arguments.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// PageSummaries orders summaries most recent first and applies paging.
func PageSummaries(summaries []chat.Summary, limit, offset int) []chat.Summary {
	limit, offset = ClampPage(limit, offset)
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].LastInteractionAt.Equal(summaries[j].LastInteractionAt) {
			return summaries[i].SessionID < summaries[j].SessionID
		}
		return summaries[i].LastInteractionAt.After(summaries[j].LastInteractionAt)
	})

	if offset >= len(summaries) {
		return []chat.Summary{}
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}
	return summaries[offset:end]
}
