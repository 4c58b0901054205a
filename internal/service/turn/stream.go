package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/event"
	"github.com/zhouzirui/embedchat/backend/internal/observability"
	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
)

// stream drives the streamed path: start, chunks, optional error chunk and
// complete. The accumulated chunk text is the canonical answer.
func (o *Orchestrator) stream(ctx context.Context, t Turn, r *run) (string, string) {
	defer o.metrics.StreamStarted()()
	started := time.Now()

	if err := r.out.Emit(ctx, event.Start{ID: r.assistant}); err != nil {
		return "", observability.OutcomeDisconnect
	}

	prompt := o.buildPrompt(ctx, t, r)

	var captured *upstream.Reply
	if o.prefetch {
		reply, err := o.gen.Generate(ctx, prompt)
		if perr, ok := isProtocolError(err); ok {
			return o.protocolFailure(ctx, r, perr)
		}
		if err != nil {
			log.Printf("[turn] prefetch failed for session=%s: %v", r.ref.ID, err)
		} else {
			captured = reply
			<-r.userSaved
			o.persistCapture(ctx, r, reply)
		}
	}

	reader, err := o.openStream(ctx, prompt, captured)
	if perr, ok := isProtocolError(err); ok {
		return o.protocolFailure(ctx, r, perr)
	}

	var (
		buf       strings.Builder
		sources   []event.Source
		streamErr = err
	)
	if reader != nil {
		sources, streamErr = o.pump(ctx, r, reader, &buf, started)
		if ctx.Err() != nil {
			// The request context ended: nobody is reading anymore.
			r.out.abandon()
		}
		if perr, ok := isProtocolError(streamErr); ok && buf.Len() == 0 {
			return o.protocolFailure(ctx, r, perr)
		}
	}

	outcome := observability.OutcomeCompleted
	if streamErr != nil && r.out.open() {
		outcome = observability.OutcomeStreamError
		o.metrics.StreamError()
		log.Printf("[turn] upstream stream failed for session=%s after %d bytes: %v", r.ref.ID, buf.Len(), streamErr)
		_ = r.out.Emit(ctx, event.Chunk{
			ID:    r.assistant,
			Text:  fmt.Sprintf(" [Error during streaming: %v]", streamErr),
			Error: true,
		})
	}

	final := buf.String()
	if final == "" && captured != nil && captured.Text != "" {
		// Streaming produced nothing: the capture is the answer, and the
		// client gets it as a chunk so it sees what was persisted.
		final = captured.Text
		if r.out.open() {
			_ = r.out.Emit(ctx, event.Chunk{ID: r.assistant, Text: final})
		}
	}
	if final == "" && streamErr != nil {
		final = fmt.Sprintf("Error during streaming: %v", streamErr)
	}

	if len(sources) == 0 && captured != nil {
		sources = captured.Sources
	}
	if r.out.open() {
		_ = r.out.Emit(ctx, event.Complete{ID: r.assistant, Sources: sources})
	}
	return final, outcome
}

// openStream asks for a stream and falls back to a single-shot answer when
// the backend cannot stream.
func (o *Orchestrator) openStream(ctx context.Context, prompt upstream.Prompt, captured *upstream.Reply) (*schema.StreamReader[*schema.Message], error) {
	reader, err := o.gen.GenerateStream(ctx, prompt)
	if !errors.Is(err, upstream.ErrStreamingUnsupported) {
		return reader, err
	}

	if captured != nil {
		return upstream.SingleChunk(captured), nil
	}
	reply, err := o.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return upstream.SingleChunk(reply), nil
}

// pump forwards chunks to the client one at a time. Each Emit blocks on the
// transport, so a slow reader slows consumption instead of growing a buffer.
func (o *Orchestrator) pump(ctx context.Context, r *run, reader *schema.StreamReader[*schema.Message], buf *strings.Builder, started time.Time) ([]event.Source, error) {
	defer reader.Close()

	var sources []event.Source
	first := true
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return sources, nil
		}
		if err != nil {
			return sources, err
		}
		if s := upstream.SourcesOf(msg); len(s) > 0 {
			sources = s
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		if err := r.out.Emit(ctx, event.Chunk{ID: r.assistant, Text: msg.Content}); err != nil {
			log.Printf("[turn] client gone for session=%s: %v", r.ref.ID, err)
			return sources, nil
		}
		if first {
			o.metrics.FirstChunk(time.Since(started))
			first = false
		}
		buf.WriteString(msg.Content)
	}
}

// protocolFailure ends the turn when the backend answered with an
// unexpected shape before any text was streamed.
func (o *Orchestrator) protocolFailure(ctx context.Context, r *run, perr *upstream.ProtocolError) (string, string) {
	log.Printf("[turn] protocol error for session=%s: %v (raw=%q)", r.ref.ID, perr, perr.Raw)
	message := perr.Error()
	_ = r.out.Emit(ctx, event.Reply{ID: r.assistant, Text: message, Error: true, ErrorMessage: message})

	text := message
	if perr.Raw != "" {
		text = fmt.Sprintf("%s\n%s", message, perr.Raw)
	}
	return text, observability.OutcomeUpstreamBad
}

// persistCapture writes the single-shot capture as the assistant message.
func (o *Orchestrator) persistCapture(ctx context.Context, r *run, reply *upstream.Reply) {
	msg := chat.Message{
		ID:        r.assistant,
		Role:      chat.RoleAssistant,
		Content:   reply.Text,
		CreatedAt: time.Now().UTC(),
	}
	writeCtx := context.WithoutCancel(ctx)
	failed := false
	o.persist("append_capture", r.ref.ID, func() error {
		err := o.store.AppendMessage(writeCtx, r.ref, msg)
		failed = err != nil
		return err
	})
	if !failed {
		r.persisted = reply
	}
}

func (o *Orchestrator) buildPrompt(ctx context.Context, t Turn, r *run) upstream.Prompt {
	req := t.Request
	prompt := upstream.Prompt{
		Text:         r.user.Content,
		SystemPrompt: t.SystemPrompt,
		SessionID:    r.ref.ID,
		Temperature:  req.TemperatureOverride,
	}
	if req.ModelOverride != nil {
		prompt.Model = strings.TrimSpace(*req.ModelOverride)
	}
	if req.Username != nil {
		if name := strings.TrimSpace(*req.Username); name != "" {
			prompt.SystemPrompt = strings.TrimSpace(prompt.SystemPrompt + "\nYou are talking with " + name + ".")
		}
	}

	history, err := o.store.LoadHistory(ctx, r.ref.ID)
	if err != nil {
		log.Printf("[turn] load history failed for session=%s: %v", r.ref.ID, err)
		return prompt
	}
	for _, msg := range history {
		if msg.ID != r.user.ID {
			prompt.History = append(prompt.History, msg)
		}
	}
	return prompt
}
