// Package turn runs one chat turn: the early-exit decision, the upstream
// call, the frame sequence sent to the widget and the history writes.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/event"
	"github.com/zhouzirui/embedchat/backend/internal/observability"
	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
	"github.com/zhouzirui/embedchat/backend/internal/store"
)

const defaultUnavailableReply = "The assistant is not available right now. Please try again in a moment."

// CannedRule answers a message without calling the upstream generator.
type CannedRule interface {
	Match(text string) (reply string, ok bool)
}

// Options configures an Orchestrator.
type Options struct {
	// Generator may be nil when no backend is configured; every turn then
	// takes the unavailable early exit.
	Generator        upstream.Generator
	Store            store.Store
	Metrics          *observability.Metrics
	UnavailableReply string
	// Prefetch takes a single-shot capture for sources before streaming.
	Prefetch bool
}

// Orchestrator runs turns. It is safe for concurrent use.
type Orchestrator struct {
	gen         upstream.Generator
	store       store.Store
	metrics     *observability.Metrics
	unavailable string
	prefetch    bool
	tracer      trace.Tracer
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	unavailable := strings.TrimSpace(opts.UnavailableReply)
	if unavailable == "" {
		unavailable = defaultUnavailableReply
	}
	return &Orchestrator{
		gen:         opts.Generator,
		store:       opts.Store,
		metrics:     opts.Metrics,
		unavailable: unavailable,
		prefetch:    opts.Prefetch,
		tracer:      observability.Tracer(),
	}
}

// Turn is one validated request plus the embed-level settings for it.
type Turn struct {
	EmbedID      string
	Request      chat.TurnRequest
	SystemPrompt string
	Rule         CannedRule
}

// Result summarises a finished turn.
type Result struct {
	UserMessageID      string
	AssistantMessageID string
	Outcome            string
	// Text is the assistant content persisted for the turn.
	Text string
}

// run is the per-turn state shared by the early-exit and streamed paths.
type run struct {
	ref       chat.SessionRef
	user      chat.Message
	assistant string
	out       *guard
	// userSaved is closed once the user message write has finished.
	userSaved <-chan struct{}
	// persisted is set when the assistant message was already written
	// from a single-shot capture.
	persisted *upstream.Reply
}

// Run executes the turn and blocks until its frames are sent and its
// history writes are done. It never panics past its boundary; every
// failure ends as a protocol outcome.
func (o *Orchestrator) Run(ctx context.Context, t Turn, emit Emitter) Result {
	req := t.Request
	ctx, span := o.tracer.Start(ctx, "turn.Run", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("embed.id", t.EmbedID),
	))
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{
		ref: chat.SessionRef{ID: req.SessionID, EmbedID: t.EmbedID, ClientUserID: req.ClientUserID},
		user: chat.Message{
			ID:        uuid.NewString(),
			Role:      chat.RoleUser,
			Content:   req.Text(),
			CreatedAt: time.Now().UTC(),
		},
		assistant: uuid.NewString(),
		out:       &guard{out: emit, cancel: cancel},
	}

	// History writes outlive a client disconnect.
	persistCtx := context.WithoutCancel(ctx)

	userSaved := make(chan struct{})
	r.userSaved = userSaved
	go func() {
		defer close(userSaved)
		o.persist("append_user", r.ref.ID, func() error {
			return o.store.AppendMessage(persistCtx, r.ref, r.user)
		})
	}()

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		o.captureLead(persistCtx, r.ref, r.user)
	}()
	defer bg.Wait()

	text, outcome := o.respond(ctx, t, r)

	<-userSaved
	o.saveAssistant(persistCtx, r, text)

	if r.out.gone {
		o.metrics.Disconnected()
		outcome = observability.OutcomeDisconnect
	}
	o.metrics.TurnFinished(outcome)
	span.SetAttributes(attribute.String("turn.outcome", outcome))
	if outcome != observability.OutcomeCompleted && outcome != observability.OutcomeEarlyExit {
		span.SetStatus(codes.Error, outcome)
	}

	return Result{
		UserMessageID:      r.user.ID,
		AssistantMessageID: r.assistant,
		Outcome:            outcome,
		Text:               text,
	}
}

// respond emits the frames of the turn and returns the assistant text to
// persist.
func (o *Orchestrator) respond(ctx context.Context, t Turn, r *run) (text string, outcome string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[turn] panic in session=%s: %v", r.ref.ID, rec)
			text = fmt.Sprintf("Internal error: %v", rec)
			outcome = observability.OutcomeStreamError
			if r.out.open() {
				_ = r.out.Emit(ctx, event.Reply{ID: r.assistant, Text: text, Error: true, ErrorMessage: text})
			}
		}
	}()

	if reply, reason, isErr, ok := o.earlyExit(ctx, t, r.user.Content); ok {
		o.metrics.EarlyExit(reason)
		_ = r.out.Emit(ctx, event.Reply{ID: r.assistant, Text: reply, Error: isErr})
		return reply, observability.OutcomeEarlyExit
	}

	return o.stream(ctx, t, r)
}

// earlyExit evaluates the short-circuit rules in priority order.
func (o *Orchestrator) earlyExit(ctx context.Context, t Turn, text string) (reply, reason string, isErr, ok bool) {
	if o.gen == nil {
		return o.unavailable, "unavailable", true, true
	}
	if err := o.gen.Healthy(ctx); err != nil {
		log.Printf("[turn] upstream unhealthy: %v", err)
		return o.unavailable, "unavailable", true, true
	}
	if t.Rule != nil {
		if canned, matched := t.Rule.Match(text); matched {
			return canned, "canned", false, true
		}
	}
	return "", "", false, false
}

// saveAssistant writes the assistant message, or corrects the earlier
// capture when the final text differs from it.
func (o *Orchestrator) saveAssistant(ctx context.Context, r *run, text string) {
	if r.persisted != nil {
		if text == "" || text == r.persisted.Text {
			return
		}
		o.persist("correct_assistant", r.ref.ID, func() error {
			return o.store.UpdateMessage(ctx, r.ref.ID, r.assistant, text)
		})
		return
	}
	if text == "" {
		return
	}

	msg := chat.Message{
		ID:        r.assistant,
		Role:      chat.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	o.persist("append_assistant", r.ref.ID, func() error {
		return o.store.AppendMessage(ctx, r.ref, msg)
	})
}

// persist runs a history write and swallows its failure.
func (o *Orchestrator) persist(op, sessionID string, write func() error) {
	if err := write(); err != nil {
		o.metrics.PersistFailed(op)
		log.Printf("[turn] %s failed for session=%s: %v", op, sessionID, err)
	}
}

func isProtocolError(err error) (*upstream.ProtocolError, bool) {
	var perr *upstream.ProtocolError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
