package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	leadx "github.com/zhouzirui/embedchat/backend/internal/analysis/lead"
	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/lead"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

// captureLead extracts contact details from the user message and records
// them. Nothing here can affect the turn.
func (o *Orchestrator) captureLead(ctx context.Context, ref chat.SessionRef, msg chat.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[lead] extraction panic for message=%s: %v", msg.ID, rec)
		}
	}()

	if msg.Content == "" {
		return
	}
	result := leadx.Extract(msg.Content)
	if result.Empty() {
		return
	}

	signal := lead.Signal{
		SessionID:  ref.ID,
		MessageID:  msg.ID,
		EmbedID:    ref.EmbedID,
		Name:       strings.Join(result.Names, ", "),
		Email:      strings.Join(result.Emails, ", "),
		Phone:      strings.Join(result.Phones, ", "),
		SourceText: msg.Content,
		CreatedAt:  time.Now().UTC(),
	}

	err := o.store.SaveLead(ctx, signal)
	switch {
	case errors.Is(err, store.ErrLeadExists):
		log.Printf("[lead] already recorded for message=%s", msg.ID)
	case err != nil:
		o.metrics.PersistFailed("save_lead")
		log.Printf("[lead] save failed for session=%s: %v", ref.ID, err)
	default:
		o.metrics.LeadCaptured()
		log.Printf("[lead] captured for session=%s (name=%t email=%t phone=%t)",
			ref.ID, signal.Name != "", signal.Email != "", signal.Phone != "")
	}
}
