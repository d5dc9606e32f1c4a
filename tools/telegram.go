package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// Telegram caps messages at 4096 characters.
const telegramMaxMessageLen = 4096

// TelegramClient sends replies through the Bot API of one agent.
type TelegramClient struct {
	bot *telego.Bot
}

// NewTelegramClient builds a client for token. apiURL overrides the Bot API
// server (self-hosted servers, tests); empty means the public one.
func NewTelegramClient(token, apiURL string) (*TelegramClient, error) {
	opts := []telego.BotOption{
		telego.WithDiscardLogger(),
		telego.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	}
	if apiURL = strings.TrimSpace(apiURL); apiURL != "" {
		opts = append(opts, telego.WithAPIServer(apiURL))
	}
	bot, err := telego.NewBot(strings.TrimSpace(token), opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramClient{bot: bot}, nil
}

// Parts returns the messages SendText sends for text, in order.
func (c *TelegramClient) Parts(text string) []string {
	return splitMessage(text, telegramMaxMessageLen)
}

// SendText sends text to chatID, split into as many messages as needed.
func (c *TelegramClient) SendText(ctx context.Context, chatID int64, text string) error {
	for _, part := range splitMessage(text, telegramMaxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), part)); err != nil {
			return fmt.Errorf("telegram send message: %w", err)
		}
	}
	return nil
}

// SendTyping shows the typing indicator in chatID.
func (c *TelegramClient) SendTyping(ctx context.Context, chatID int64) error {
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

// AnswerCallback acknowledges a callback query so the client stops its spinner.
func (c *TelegramClient) AnswerCallback(ctx context.Context, queryID, text string) error {
	return c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	})
}

// AnswerInline answers an inline query with a single article.
func (c *TelegramClient) AnswerInline(ctx context.Context, queryID, title, text string) error {
	if utf8.RuneCountInString(text) > telegramMaxMessageLen {
		text = splitMessage(text, telegramMaxMessageLen)[0]
	}
	return c.bot.AnswerInlineQuery(ctx, &telego.AnswerInlineQueryParams{
		InlineQueryID: queryID,
		CacheTime:     0,
		Results: []telego.InlineQueryResult{
			&telego.InlineQueryResultArticle{
				Type:                telego.ResultTypeArticle,
				ID:                  queryID,
				Title:               title,
				Description:         preview(text, 120),
				InputMessageContent: &telego.InputTextMessageContent{MessageText: text},
			},
		},
	})
}

// AnswerPreCheckout approves or rejects a pre-checkout query.
func (c *TelegramClient) AnswerPreCheckout(ctx context.Context, queryID string, ok bool, errMsg string) error {
	params := &telego.AnswerPreCheckoutQueryParams{PreCheckoutQueryID: queryID, Ok: ok}
	if !ok {
		params.ErrorMessage = errMsg
	}
	return c.bot.AnswerPreCheckoutQuery(ctx, params)
}

// splitMessage cuts text into chunks of at most limit runes, preferring
// newline boundaries.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func preview(s string, n int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-1]) + "…"
}
