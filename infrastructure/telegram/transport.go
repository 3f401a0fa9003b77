package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/avelov/tg-pulse/core/config"
	"github.com/avelov/tg-pulse/domains/messaging"
)

// Transport wraps the Bot API client behind the outbound messaging contract.
type Transport struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	maxBytes   int64
}

func NewTransport(cfg config.TelegramConfig) (*Transport, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"username": bot.Self.UserName,
		"bot_id":   bot.Self.ID,
	}).Info("[TELEGRAM] Authorized")

	return &Transport{
		bot:        bot,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBytes:   cfg.MaxDownloadBytes,
	}, nil
}

func (t *Transport) ReplyInThread(ctx context.Context, chatID int64, replyToMessageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMessageID
	msg.AllowSendingWithoutReply = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send reply to %d/%d: %w", chatID, replyToMessageID, err)
	}
	return nil
}

func (t *Transport) SendPoll(ctx context.Context, chatID int64, question string, options []string, openSeconds int, replyToMessageID int) (int, error) {
	poll := tgbotapi.NewPoll(chatID, question, options...)
	poll.IsAnonymous = true
	if openSeconds > 0 {
		poll.OpenPeriod = openSeconds
	}
	if replyToMessageID != 0 {
		poll.ReplyToMessageID = replyToMessageID
		poll.AllowSendingWithoutReply = true
	}

	sent, err := t.bot.Send(poll)
	if err != nil {
		return 0, fmt.Errorf("send poll to %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (t *Transport) DownloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file %s: status %d", fileID, resp.StatusCode)
	}

	// One extra byte past the cap detects oversized files without
	// buffering them whole.
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileID, err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, fmt.Errorf("file %s exceeds limit of %s", fileID, humanize.Bytes(uint64(t.maxBytes)))
	}

	logrus.WithFields(logrus.Fields{
		"file_id": fileID,
		"size":    humanize.Bytes(uint64(len(data))),
	}).Debug("[TELEGRAM] Photo downloaded")

	return data, nil
}

// SetWebhook registers the public webhook URL. The request is assembled by
// hand because the client library predates the secret_token parameter.
func (t *Transport) SetWebhook(url, secretToken string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params["drop_pending_updates"] = "true"
	params.AddNonEmpty("secret_token", secretToken)

	if _, err := t.bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	logrus.WithField("url", url).Info("[TELEGRAM] Webhook registered")
	return nil
}

func (t *Transport) DeleteWebhook(dropPending bool) error {
	params := tgbotapi.Params{}
	params["drop_pending_updates"] = strconv.FormatBool(dropPending)

	if _, err := t.bot.MakeRequest("deleteWebhook", params); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}
	return nil
}

var _ messaging.ITransport = (*Transport)(nil)
