package providers

import (
	"context"
	"errors"
	"strings"

	"botgate/tools"
)

// NewAnthropic builds the Messages API provider. The API is stateless, so
// stored history is replayed on every call.
func NewAnthropic(s Settings, d Deps) (Provider, error) {
	if s.APIKey == "" {
		return nil, errors.New("api key not set")
	}
	if s.Model == "" {
		return nil, errors.New("model not set")
	}
	backend := &anthropicBackend{client: tools.AnthropicClient{
		ApiKey:    s.APIKey,
		BaseURL:   s.BaseURL,
		Model:     s.Model,
		MaxTokens: s.MaxTokens,
	}}
	return NewAssistant(s.Provider, backend, d), nil
}

type anthropicBackend struct {
	client tools.AnthropicClient
}

func (b *anthropicBackend) Complete(ctx context.Context, conv Conversation) (*Completion, error) {
	turns := make([]tools.ChatTurn, 0, len(conv.History)+1)
	turns = append(turns, conv.History...)
	turns = append(turns, tools.ChatTurn{Role: "user", Content: conv.Text})

	reply, err := b.client.Message(ctx, conv.Instruction, turns, conv.CorrelationID)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil, errors.New("anthropic: empty reply")
	}
	return &Completion{
		Text:         text,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}, nil
}
