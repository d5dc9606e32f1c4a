package ingest

import (
	"errors"
	"testing"

	"botgate/models"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantKind string
		wantChat int64
		wantRef  string
		wantText string
	}{
		{
			name:     "message",
			body:     `{"update_id":1001,"message":{"message_id":5,"date":1,"from":{"id":42,"is_bot":false,"first_name":"Ada","last_name":"Lovelace","username":"ada"},"chat":{"id":-77,"type":"group"},"text":"/start@my_bot hi"}}`,
			wantKind: models.EVENT_KIND_MESSAGE,
			wantChat: -77,
			wantRef:  "5",
			wantText: "/start@my_bot hi",
		},
		{
			name:     "caption stands in for text",
			body:     `{"update_id":1,"message":{"message_id":6,"date":1,"from":{"id":42,"is_bot":false,"first_name":"Ada"},"chat":{"id":42,"type":"private"},"caption":"look"}}`,
			wantKind: models.EVENT_KIND_MESSAGE,
			wantChat: 42,
			wantRef:  "6",
			wantText: "look",
		},
		{
			name:     "message wins over callback",
			body:     `{"update_id":2,"callback_query":{"id":"cb","from":{"id":42,"is_bot":false,"first_name":"Ada"},"data":"x"},"message":{"message_id":1,"date":1,"from":{"id":42,"is_bot":false,"first_name":"Ada"},"chat":{"id":42,"type":"private"},"text":"hello"}}`,
			wantKind: models.EVENT_KIND_MESSAGE,
			wantChat: 42,
			wantRef:  "1",
			wantText: "hello",
		},
		{
			name:     "edited message",
			body:     `{"update_id":3,"edited_message":{"message_id":9,"date":1,"edit_date":2,"from":{"id":42,"is_bot":false,"first_name":"Ada"},"chat":{"id":42,"type":"private"},"text":"fixed"}}`,
			wantKind: models.EVENT_KIND_EDITED_MESSAGE,
			wantChat: 42,
			wantRef:  "9",
			wantText: "fixed",
		},
		{
			name:     "inline query uses sender as chat",
			body:     `{"update_id":4,"inline_query":{"id":"iq-1","from":{"id":42,"is_bot":false,"first_name":"Ada"},"query":"weather","offset":""}}`,
			wantKind: models.EVENT_KIND_INLINE_QUERY,
			wantChat: 42,
			wantRef:  "iq-1",
			wantText: "weather",
		},
		{
			name:     "callback query uses message chat",
			body:     `{"update_id":5,"callback_query":{"id":"cb-1","from":{"id":42,"is_bot":false,"first_name":"Ada"},"chat_instance":"c","data":"/buy","message":{"message_id":3,"date":0,"chat":{"id":-100,"type":"supergroup"}}}}`,
			wantKind: models.EVENT_KIND_CALLBACK_QUERY,
			wantChat: -100,
			wantRef:  "cb-1",
			wantText: "/buy",
		},
		{
			name:     "pre-checkout query",
			body:     `{"update_id":6,"pre_checkout_query":{"id":"pc-1","from":{"id":42,"is_bot":false,"first_name":"Ada"},"currency":"USD","total_amount":500,"invoice_payload":"credits-50"}}`,
			wantKind: models.EVENT_KIND_PRE_CHECKOUT_QUERY,
			wantChat: 42,
			wantRef:  "pc-1",
			wantText: "credits-50",
		},
		{name: "missing update id", body: `{"message":{"message_id":1}}`, wantErr: ErrMissingUpdateID},
		{name: "null update id", body: `{"update_id":null}`, wantErr: ErrMissingUpdateID},
		{name: "not json", body: `<xml/>`, wantErr: ErrMissingUpdateID},
		{name: "unrecognized kind", body: `{"update_id":7,"poll":{"id":"p"}}`, wantErr: ErrIgnored},
		{name: "message without sender", body: `{"update_id":8,"message":{"message_id":1,"date":1,"chat":{"id":1,"type":"channel"},"text":"x"}}`, wantErr: ErrIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := Normalize([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if in.Kind != tt.wantKind || in.PlatformChatID != tt.wantChat || in.PlatformRef != tt.wantRef || in.Text != tt.wantText {
				t.Fatalf("got kind=%s chat=%d ref=%s text=%q", in.Kind, in.PlatformChatID, in.PlatformRef, in.Text)
			}
			if in.SenderID != 42 {
				t.Fatalf("sender = %d, want 42", in.SenderID)
			}
			if len(in.Payload) == 0 {
				t.Fatal("payload not kept")
			}
		})
	}
}

func TestNormalize_SenderName(t *testing.T) {
	in, err := Normalize([]byte(`{"update_id":"1001","message":{"message_id":1,"date":1,"from":{"id":42,"is_bot":false,"first_name":"Ada","last_name":"Lovelace","username":"ada"},"chat":{"id":42,"type":"private"},"text":"hi"}}`))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if in.UpdateID != 1001 {
		t.Fatalf("update id = %d", in.UpdateID)
	}
	if in.SenderName != "Ada Lovelace" || in.SenderHandle != "ada" {
		t.Fatalf("sender = %q/%q", in.SenderName, in.SenderHandle)
	}
}
