package alerting

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const defaultAPIBase = "https://api.telegram.org"

// TelegramOptions configure the Bot API client.
type TelegramOptions struct {
	Token   string
	APIBase string
	Timeout time.Duration
}

// Telegram implements Messenger over the Telegram Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// NewTelegram authenticates the bot with getMe and returns a client.
func NewTelegram(opts TelegramOptions, logger zerolog.Logger) (*Telegram, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, base+"/bot%s/%s", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	log := logger.With().Str("component", "alert_telegram").Logger()
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorised")
	return &Telegram{bot: bot, logger: log}, nil
}

// SendMessage posts text to chatID.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return classify(err)
	}
	t.logger.Debug().Int64("chat_id", chatID).Msg("message sent")
	return nil
}

// DeleteMessage removes a previously sent message.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps Bot API failures onto delivery kinds. Unrecognised errors
// are returned untouched.
func classify(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.MigrateToChatID != 0 {
			return &DeliveryError{Kind: KindMigrated, MigrateTo: apiErr.MigrateToChatID, Err: err}
		}
		if apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			return &DeliveryError{Kind: KindRateLimited, RetryAfter: wait, Err: err}
		}
		if kind := classifyDescription(apiErr.Message); kind != KindOther {
			return &DeliveryError{Kind: kind, Err: err}
		}
		return err
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return &DeliveryError{Kind: KindNetwork, Err: err}
	}
	return err
}

func classifyDescription(desc string) Kind {
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "bot was blocked"),
		strings.Contains(d, "bot was kicked"),
		strings.Contains(d, "bot is not a member"),
		strings.Contains(d, "can't initiate conversation"):
		return KindBlocked
	case strings.Contains(d, "chat not found"):
		return KindNotFound
	case strings.Contains(d, "user is deactivated"):
		return KindDeactivated
	default:
		return KindOther
	}
}

var _ Messenger = (*Telegram)(nil)
