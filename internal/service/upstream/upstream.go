// Package upstream is the boundary to the answer-generation backend. The turn
// orchestrator only sees Generator; whether answers come from the local
// model chain or a remote workflow webhook is decided at wiring time.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/model/event"
)

var (
	// ErrUnavailable means the backend cannot serve requests right now.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrStreamingUnsupported is returned by GenerateStream when the backend
	// only answers in one shot; callers fall back to Generate.
	ErrStreamingUnsupported = errors.New("upstream streaming unsupported")
)

// Prompt is one generation request.
type Prompt struct {
	Text         string
	SystemPrompt string
	SessionID    string
	Model        string
	Temperature  *float64
	// History is the earlier conversation, oldest first, without this turn.
	History []chat.Message
}

// Reply is a complete single-shot answer.
type Reply struct {
	Text    string
	Sources []event.Source
}

// Generator produces answers for a prompt, either at once or incrementally.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Healthy returns nil when the backend can take requests.
	Healthy(ctx context.Context) error
	// Generate returns the whole answer.
	Generate(ctx context.Context, prompt Prompt) (*Reply, error)
	// GenerateStream returns the answer as a stream of message chunks. The
	// caller must Close the reader.
	GenerateStream(ctx context.Context, prompt Prompt) (*schema.StreamReader[*schema.Message], error)
}

// ProtocolError reports a backend response that does not have the expected
// shape. Raw keeps the offending payload for diagnostics.
type ProtocolError struct {
	Backend string
	Reason  string
	Raw     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %s", e.Backend, e.Reason)
}

const sourcesKey = "sources"

// WithSources attaches sources to a chunk so they travel with the stream.
func WithSources(msg *schema.Message, sources []event.Source) *schema.Message {
	if msg == nil || len(sources) == 0 {
		return msg
	}
	if msg.Extra == nil {
		msg.Extra = make(map[string]any, 1)
	}
	msg.Extra[sourcesKey] = sources
	return msg
}

// SourcesOf returns sources attached by WithSources.
func SourcesOf(msg *schema.Message) []event.Source {
	if msg == nil || msg.Extra == nil {
		return nil
	}
	sources, _ := msg.Extra[sourcesKey].([]event.Source)
	return sources
}

// SingleChunk turns a complete reply into a one-chunk stream.
func SingleChunk(reply *Reply) *schema.StreamReader[*schema.Message] {
	msg := WithSources(schema.AssistantMessage(reply.Text, nil), reply.Sources)
	return schema.StreamReaderFromArray([]*schema.Message{msg})
}
