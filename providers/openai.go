package providers

import (
	"context"
	"errors"
	"strings"

	"botgate/tools"
)

// NewOpenAI builds the Responses API provider. Conversation state lives on
// the OpenAI side: the chat's external session id is the previous response id
// and only the new turn is sent.
func NewOpenAI(s Settings, d Deps) (Provider, error) {
	if s.APIKey == "" {
		return nil, errors.New("api key not set")
	}
	if s.Model == "" {
		return nil, errors.New("model not set")
	}
	backend := &openAIBackend{client: tools.OpenAIClient{
		ApiKey:    s.APIKey,
		BaseURL:   s.BaseURL,
		Model:     s.Model,
		MaxTokens: s.MaxTokens,
	}}
	return NewAssistant(s.Provider, backend, d), nil
}

type openAIBackend struct {
	client tools.OpenAIClient
}

func (b *openAIBackend) Complete(ctx context.Context, conv Conversation) (*Completion, error) {
	req := tools.OpenAIRequest{
		Instructions: conv.Instruction,
		User:         conv.CorrelationID,
	}
	if conv.SessionRef != "" {
		req.PreviousResponseID = conv.SessionRef
	} else {
		req.Input = append(req.Input, conv.History...)
	}
	req.Input = append(req.Input, tools.ChatTurn{Role: "user", Content: conv.Text})

	reply, err := b.client.Respond(ctx, req)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(reply.Text)
	if text == "" {
		return nil, errors.New("openai: empty reply")
	}
	return &Completion{
		Text:         text,
		SessionRef:   reply.ID,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}, nil
}
