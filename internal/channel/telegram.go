package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

var ErrSendFailed = errors.New("telegram send failed")

type TelegramChannel struct {
	client *resty.Client
}

var _ Channel = (*TelegramChannel)(nil)

func NewTelegramChannel(apiURL, token string) *TelegramChannel {
	client := resty.New().
		SetBaseURL(fmt.Sprintf("%s/bot%s", strings.TrimSuffix(apiURL, "/"), token)).
		SetTimeout(30 * time.Second)
	return &TelegramChannel{client: client}
}

type telegramResponse struct {
	Ok          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

type sendMessageRequest struct {
	ChatId string `json:"chat_id"`
	Text   string `json:"text"`
}

func checkResponse(method string, res *resty.Response) error {
	var parsed telegramResponse
	if err := sonic.ConfigStd.Unmarshal(res.Body(), &parsed); err != nil {
		slog.Error("telegram returned unreadable response", "method", method, "status_code", res.StatusCode(), "body", res.String())
		return fmt.Errorf("%w: %s returned status %d", ErrSendFailed, method, res.StatusCode())
	}
	if !res.IsSuccess() || !parsed.Ok {
		slog.Error("telegram returned error", "method", method, "status_code", res.StatusCode(), "description", parsed.Description)
		return fmt.Errorf("%w: %s: %s", ErrSendFailed, method, parsed.Description)
	}
	return nil
}

// Truncate shortens text to at most limit runes, marking the cut with "...".
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func (c *TelegramChannel) SendText(ctx context.Context, address, text string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(sendMessageRequest{ChatId: address, Text: Truncate(text, MaxMessageLength)}).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("%w: sendMessage: %v", ErrSendFailed, err)
	}
	return checkResponse("sendMessage", res)
}

func (c *TelegramChannel) SendVoice(ctx context.Context, address, name string, audio io.Reader) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"chat_id": address}).
		SetFileReader("voice", name, audio).
		Post("/sendVoice")
	if err != nil {
		return fmt.Errorf("%w: sendVoice: %v", ErrSendFailed, err)
	}
	return checkResponse("sendVoice", res)
}
