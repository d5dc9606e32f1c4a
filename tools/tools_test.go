package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestOpenAIClient_Respond(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_2",
			"output": [
				{"type": "reasoning", "content": []},
				{"type": "message", "role": "assistant", "content": [{"type": "output_text", "text": "Hi there"}]}
			],
			"usage": {"input_tokens": 12, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c := OpenAIClient{ApiKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-test"}
	reply, err := c.Respond(context.Background(), OpenAIRequest{
		Instructions:       "be brief",
		Input:              []ChatTurn{{Role: "user", Content: "hello"}},
		PreviousResponseID: "resp_1",
		User:               "corr-1",
	})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.ID != "resp_2" || reply.Text != "Hi there" || reply.OutputTokens != 3 {
		t.Fatalf("reply = %+v", reply)
	}
	if got["previous_response_id"] != "resp_1" || got["instructions"] != "be brief" || got["user"] != "corr-1" {
		t.Fatalf("request body = %v", got)
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"slow down"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := OpenAIClient{ApiKey: "sk-test", BaseURL: srv.URL}
	_, err := c.Respond(context.Background(), OpenAIRequest{Input: []ChatTurn{{Role: "user", Content: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if !apiErr.Temporary() {
		t.Fatal("429 should be temporary")
	}
}

func TestAnthropicClient_Message(t *testing.T) {
	var got struct {
		System   string     `json:"system"`
		Messages []ChatTurn `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "ak-test" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"msg_1","stop_reason":"end_turn","content":[{"type":"text","text":"Bonjour"}],"usage":{"input_tokens":5,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := AnthropicClient{ApiKey: "ak-test", BaseURL: srv.URL, Model: "claude-test"}
	reply, err := c.Message(context.Background(), "speak french", []ChatTurn{
		{Role: "assistant", Content: "orphan"},
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "again"},
	}, "corr-1")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if reply.Text != "Bonjour" {
		t.Fatalf("text = %q", reply.Text)
	}
	if got.System != "speak french" {
		t.Fatalf("system = %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hi\n\nagain" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestSplitMessage(t *testing.T) {
	long := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	parts := splitMessage(long, 40)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0] != strings.Repeat("a", 30)+"\n" {
		t.Fatalf("first part = %q", parts[0])
	}
	if strings.Join(parts, "") != long {
		t.Fatal("split lost characters")
	}
	if got := splitMessage("short", 40); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %v", got)
	}
}

func TestTelegramClient_Parts(t *testing.T) {
	var c TelegramClient
	text := strings.Repeat("x", telegramMaxMessageLen+10)
	parts := c.Parts(text)
	if len(parts) != 2 || utf8.RuneCountInString(parts[0]) != telegramMaxMessageLen {
		t.Fatalf("parts = %d (first %d runes)", len(parts), utf8.RuneCountInString(parts[0]))
	}
	if strings.Join(parts, "") != text {
		t.Fatal("parts lost characters")
	}
}

func TestAPIError_Temporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusConflict, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
	}
	for _, tt := range tests {
		e := &APIError{Service: "openai", StatusCode: tt.status}
		if got := e.Temporary(); got != tt.want {
			t.Errorf("Temporary() for %d = %v, want %v", tt.status, got, tt.want)
		}
	}
}
