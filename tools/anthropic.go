package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient is a thin client for the Anthropic Messages API.
type AnthropicClient struct {
	ApiKey     string
	BaseURL    string // e.g. https://api.anthropic.com/v1
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

type AnthropicReply struct {
	ID           string
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Message calls POST /messages. turns must end with the user turn to answer.
func (c AnthropicClient) Message(ctx context.Context, system string, turns []ChatTurn, userID string) (*AnthropicReply, error) {
	if strings.TrimSpace(c.ApiKey) == "" {
		return nil, fmt.Errorf("anthropic api key not set")
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqBody := map[string]any{
		"model":      c.Model,
		"max_tokens": maxTokens,
		"messages":   alternate(turns),
	}
	if strings.TrimSpace(system) != "" {
		reqBody["system"] = system
	}
	if userID != "" {
		reqBody["metadata"] = map[string]any{"user_id": userID}
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.BaseURL, "https://api.anthropic.com/v1", "messages"), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", strings.TrimSpace(c.ApiKey))
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Service: "anthropic", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		ID         string `json:"id"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode anthropic response: %w", err)
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return nil, fmt.Errorf("empty response from anthropic (stop_reason=%s)", parsed.StopReason)
	}
	return &AnthropicReply{
		ID:           parsed.ID,
		Text:         out,
		StopReason:   parsed.StopReason,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

// alternate drops leading assistant turns and merges consecutive turns of the
// same role; the Messages API rejects anything else.
func alternate(turns []ChatTurn) []ChatTurn {
	out := make([]ChatTurn, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if len(out) == 0 && t.Role != "user" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, t)
	}
	return out
}
