package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"openrouter-proxy/internal/domain"
	"openrouter-proxy/internal/jsonextract"
)

// Gateway is the completion gateway consumed by CompletionService.
// Except for Generate, failures are opaque: the bool is false and the cause is
// only in the gateway's logs.
type Gateway interface {
	Generate(ctx context.Context, text string) (json.RawMessage, error)
	SendMessage(ctx context.Context, text string) (string, bool)
	SendStructured(ctx context.Context, text string, schema domain.ResponseSchema) (any, bool)
	SendHistory(ctx context.Context, messages []domain.ChatMessage) (string, bool)
	SendStructuredHistory(ctx context.Context, messages []domain.ChatMessage, schema domain.ResponseSchema) (any, bool)
	AccountCredits(ctx context.Context) (any, bool)
	ListProviders(ctx context.Context) (any, bool)
}

// CompletionService implements the proxy's route-level operations.
type CompletionService struct {
	gateway Gateway
	logger  jsonextract.Logger
}

// NewCompletionService creates a CompletionService. logger receives extraction
// failures for prompt-constrained replies.
func NewCompletionService(gw Gateway, logger jsonextract.Logger) (*CompletionService, error) {
	if gw == nil {
		return nil, errors.New("usecase: gateway must not be nil")
	}
	return &CompletionService{gateway: gw, logger: logger}, nil
}

// Generate returns the raw upstream chat completion for a single message.
func (s *CompletionService) Generate(ctx context.Context, message string) (json.RawMessage, error) {
	if strings.TrimSpace(message) == "" {
		return nil, newError(ErrorInvalidInput, "empty_message", nil)
	}
	raw, err := s.gateway.Generate(ctx, message)
	if err != nil {
		return nil, newError(ErrorUpstream, "generate_error", err)
	}
	return raw, nil
}

// Respond returns the model's reply text for a single message.
func (s *CompletionService) Respond(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", newError(ErrorInvalidInput, "empty_message", nil)
	}
	reply, ok := s.gateway.SendMessage(ctx, message)
	if !ok {
		return "", newError(ErrorUpstream, "respond_error", nil)
	}
	return reply, nil
}

// Credits returns the account credit report.
func (s *CompletionService) Credits(ctx context.Context) (any, error) {
	v, ok := s.gateway.AccountCredits(ctx)
	if !ok || isEmpty(v) {
		return nil, newError(ErrorUpstream, "credits_unavailable", nil)
	}
	return v, nil
}

// Providers returns the upstream provider listing.
func (s *CompletionService) Providers(ctx context.Context) (any, error) {
	v, ok := s.gateway.ListProviders(ctx)
	if !ok || isEmpty(v) {
		return nil, newError(ErrorUpstream, "providers_unavailable", nil)
	}
	return v, nil
}

// WeatherReport asks for a weather report constrained by the weather schema.
func (s *CompletionService) WeatherReport(ctx context.Context) (any, error) {
	v, ok := s.gateway.SendStructured(ctx, weatherPrompt, WeatherSchema())
	if !ok || isEmpty(v) {
		return nil, newError(ErrorUpstream, "structured_unavailable", nil)
	}
	return v, nil
}

// Chat sends history and returns it with the assistant's reply appended.
func (s *CompletionService) Chat(ctx context.Context, history []domain.ChatMessage) ([]domain.ChatMessage, error) {
	if err := validateHistory(history); err != nil {
		return nil, err
	}
	reply, ok := s.gateway.SendHistory(ctx, history)
	if !ok {
		return nil, newError(ErrorUpstream, "chat_error", nil)
	}
	out := make([]domain.ChatMessage, 0, len(history)+1)
	out = append(out, history...)
	return append(out, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply}), nil
}

// StructuredChat sends history constrained by the weather schema.
func (s *CompletionService) StructuredChat(ctx context.Context, history []domain.ChatMessage) (any, error) {
	if err := validateHistory(history); err != nil {
		return nil, err
	}
	v, ok := s.gateway.SendStructuredHistory(ctx, history, WeatherSchema())
	if !ok || isEmpty(v) {
		return nil, newError(ErrorUpstream, "structured_chat_error", nil)
	}
	return v, nil
}

// ContentIdea asks for a content idea whose schema is embedded in the prompt
// rather than sent as a response format, then extracts the JSON from the reply.
func (s *CompletionService) ContentIdea(ctx context.Context) (any, error) {
	prompt, err := contentIdeaPrompt()
	if err != nil {
		return nil, newError(ErrorInternal, "prompt_build_error", err)
	}
	raw, ok := s.gateway.SendMessage(ctx, prompt)
	if !ok {
		return nil, newError(ErrorUpstream, "content_idea_error", nil)
	}
	v, ok := jsonextract.Extract(ctx, s.logger, raw)
	if !ok || isEmpty(v) {
		return nil, newError(ErrorMalformedOutput, "structured_parse_error", nil)
	}
	return v, nil
}

func validateHistory(history []domain.ChatMessage) error {
	if len(history) == 0 {
		return newError(ErrorInvalidInput, "empty_history", nil)
	}
	for _, m := range history {
		if !m.Role.Valid() {
			return newError(ErrorInvalidInput, "invalid_role", nil)
		}
		if strings.TrimSpace(m.Content) == "" {
			return newError(ErrorInvalidInput, "empty_content", nil)
		}
	}
	return nil
}

// isEmpty reports whether v carries no data: nil, {} or [].
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}
