package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

// Service keeps session history and leads in process memory. It is the
// default store for development and tests.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	// byUser indexes session ids by embed id and client user id.
	byUser map[userKey][]string
	leads  map[string]lead.Signal
}

type userKey struct {
	embedID      string
	clientUserID string
}

var _ store.Store = (*Service)(nil)

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		byUser:   make(map[userKey][]string),
		leads:    make(map[string]lead.Signal),
	}
}

// AppendMessage stores msg, replacing a previous message with the same id.
func (s *Service) AppendMessage(_ context.Context, ref chat.SessionRef, msg chat.Message) error {
	if ref.ID == "" {
		return chat.ErrSessionRequired
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[ref.ID]; !ok {
		s.sessions[ref.ID] = chat.Session{
			ID:           ref.ID,
			EmbedID:      ref.EmbedID,
			ClientUserID: ref.ClientUserID,
			CreatedAt:    now,
		}
		if ref.ClientUserID != "" {
			key := userKey{embedID: ref.EmbedID, clientUserID: ref.ClientUserID}
			s.byUser[key] = append(s.byUser[key], ref.ID)
		}
	}

	history := s.messages[ref.ID]
	for i := range history {
		if history[i].ID == msg.ID {
			msg.CreatedAt = history[i].CreatedAt
			msg.UpdatedAt = &now
			history[i] = msg
			return nil
		}
	}
	s.messages[ref.ID] = append(history, msg)
	return nil
}

// UpdateMessage replaces the content of a stored message.
func (s *Service) UpdateMessage(_ context.Context, sessionID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.messages[sessionID]
	for i := range history {
		if history[i].ID != messageID {
			continue
		}
		if history[i].Content == content {
			return nil
		}
		history[i].Content = content
		now := time.Now().UTC()
		history[i].UpdatedAt = &now
		return nil
	}
	return store.ErrMessageNotFound
}

// LoadHistory returns stored messages for the provided session.
func (s *Service) LoadHistory(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// DeleteHistory drops every message of the session.
func (s *Service) DeleteHistory(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, sessionID)
	return nil
}

// ListSessions summarises the sessions one widget user started.
func (s *Service) ListSessions(_ context.Context, embedID, clientUserID string, limit, offset int) ([]chat.Summary, error) {
	s.mu.RLock()
	ids := s.byUser[userKey{embedID: embedID, clientUserID: clientUserID}]
	summaries := make([]chat.Summary, 0, len(ids))
	for _, id := range ids {
		if summary, ok := chat.Summarize(s.sessions[id], s.messages[id]); ok {
			summaries = append(summaries, summary)
		}
	}
	s.mu.RUnlock()

	return store.PageSummaries(summaries, limit, offset), nil
}

// SaveLead records a lead once per message id.
func (s *Service) SaveLead(_ context.Context, signal lead.Signal) error {
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[signal.MessageID]; ok {
		return store.ErrLeadExists
	}
	s.leads[signal.MessageID] = signal
	return nil
}

// Leads returns recorded leads for a session in no particular order.
func (s *Service) Leads(sessionID string) []lead.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []lead.Signal
	for _, signal := range s.leads {
		if signal.SessionID == sessionID {
			out = append(out, signal)
		}
	}
	return out
}
