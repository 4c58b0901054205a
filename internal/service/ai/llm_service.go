package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/embedchat/backend/internal/config"
	"github.com/zhouzirui/embedchat/backend/internal/model/chat"
	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
)

const historyLimit = 10

// Service answers prompts with a compiled eino chain: template -> chat model.
type Service struct {
	chatModel model.ChatModel
	streaming bool
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService builds the chat model from configuration and compiles the chain.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg.StreamResponse)
}

// NewServiceWithModel compiles the chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, streaming bool) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		streaming: streaming,
		chain:     runnable,
	}, nil
}

var _ upstream.Generator = (*Service)(nil)

// Healthy reports whether the chain is ready.
func (s *Service) Healthy(_ context.Context) error {
	if s == nil || s.chain == nil {
		return upstream.ErrUnavailable
	}
	return nil
}

// Generate runs the chain once and returns the whole answer.
func (s *Service) Generate(ctx context.Context, p upstream.Prompt) (*upstream.Reply, error) {
	response, err := s.chain.Invoke(ctx, buildChainInput(p), modelOptions(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return nil, &upstream.ProtocolError{Backend: "chat model", Reason: "empty response"}
	}

	log.Printf("[ai] generated response for session=%s, length=%d", p.SessionID, len(response.Content))
	return &upstream.Reply{Text: response.Content}, nil
}

// GenerateStream streams the chain output chunk by chunk.
func (s *Service) GenerateStream(ctx context.Context, p upstream.Prompt) (*schema.StreamReader[*schema.Message], error) {
	if !s.streaming {
		return nil, upstream.ErrStreamingUnsupported
	}

	stream, err := s.chain.Stream(ctx, buildChainInput(p), modelOptions(p)...)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func buildChainInput(p upstream.Prompt) map[string]any {
	return map[string]any{
		"system":  p.SystemPrompt,
		"history": buildHistoryMessages(p.History),
		"query":   p.Text,
	}
}

func modelOptions(p upstream.Prompt) []compose.Option {
	var opts []model.Option
	if p.Model != "" {
		opts = append(opts, model.WithModel(p.Model))
	}
	if p.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*p.Temperature)))
	}
	if len(opts) == 0 {
		return nil
	}
	return []compose.Option{compose.WithChatModelOption(opts...)}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
