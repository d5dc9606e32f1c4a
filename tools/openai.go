package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatTurn is one message of conversation history.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIClient is a thin client for the OpenAI Responses API.
type OpenAIClient struct {
	ApiKey     string
	BaseURL    string // e.g. https://api.openai.com/v1
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// OpenAIRequest is one Responses API call. When PreviousResponseID is set the
// server already holds the earlier turns and Input only carries the new ones.
type OpenAIRequest struct {
	Instructions       string
	Input              []ChatTurn
	PreviousResponseID string
	User               string
}

type OpenAIReply struct {
	ID           string
	Text         string
	InputTokens  int
	OutputTokens int
}

// Respond calls POST /responses and returns the assistant text.
func (c OpenAIClient) Respond(ctx context.Context, in OpenAIRequest) (*OpenAIReply, error) {
	if strings.TrimSpace(c.ApiKey) == "" {
		return nil, fmt.Errorf("openai api key not set")
	}

	reqBody := map[string]any{
		"model":        c.Model,
		"instructions": in.Instructions,
		"input":        in.Input,
	}
	if in.PreviousResponseID != "" {
		reqBody["previous_response_id"] = in.PreviousResponseID
	}
	if in.User != "" {
		reqBody["user"] = in.User
	}
	if c.MaxTokens > 0 {
		reqBody["max_output_tokens"] = c.MaxTokens
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.BaseURL, "https://api.openai.com/v1", "responses"), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.ApiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient(c.HTTPClient).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Service: "openai", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed struct {
		ID     string `json:"id"`
		Output []struct {
			Type    string `json:"type"`
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}

	var sb strings.Builder
	for _, item := range parsed.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && strings.TrimSpace(c.Text) != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(c.Text)
			}
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return nil, fmt.Errorf("empty response from openai (no output_text items)")
	}
	return &OpenAIReply{
		ID:           parsed.ID,
		Text:         out,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}

// APIError is a non-2xx answer of an upstream HTTP API.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

func joinURL(base, def, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = def
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

func httpClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 60 * time.Second}
}
