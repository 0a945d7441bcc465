package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/atlas-erp/advisor/backend/internal/config"
	"github.com/atlas-erp/advisor/backend/internal/model/chat"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
)

// Service runs persona-templated completions through an eino chat chain.
type Service struct {
	chatModel model.ChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates the AI service from configuration.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
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
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled indicates whether SSE streaming output is configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Complete runs one completion for the persona over the supplied prior turns.
func (s *Service) Complete(ctx context.Context, p persona.Persona, history []chat.HistoryTurn, query string) (string, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(p, history, query))
	if err != nil {
		return "", fmt.Errorf("failed to run completion chain: %w", err)
	}

	log.Printf("[ai] generated response persona=%s length=%d", p.ID, len(response.Content))
	return response.Content, nil
}

// StreamComplete streams completion chunks via the configured chain.
func (s *Service) StreamComplete(ctx context.Context, p persona.Persona, history []chat.HistoryTurn, query string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(p, history, query))
	if err != nil {
		return nil, fmt.Errorf("failed to stream completion chain: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(p persona.Persona, history []chat.HistoryTurn, query string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(p),
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(history []chat.HistoryTurn) []*schema.Message {
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
