// Package notify copies operator relays to out-of-band channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	// The bot API allows about 30 messages per second across chats.
	telegramBurst    = 20
	telegramInterval = time.Second / 20
)

// Sender is the part of the bot API used here. *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram forwards relays to a fixed list of Telegram chats.
type Telegram struct {
	sender  Sender
	chatIDs []int64
	prefix  string
	backoff time.Duration
	pace    *pacer
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token       string
	ChatIDs     []string
	Brand       string // prefixes every notification
	APIEndpoint string // optional, bot API URL format with %s for token and method
	Logger      *slog.Logger
}

// NewTelegram authenticates the bot token and returns a notifier.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram notifier connected", "username", bot.Self.UserName, "chats", len(cfg.ChatIDs))
	return newTelegram(bot, cfg)
}

func newTelegram(sender Sender, cfg TelegramConfig) (*Telegram, error) {
	ids := make([]int64, 0, len(cfg.ChatIDs))
	for _, s := range cfg.ChatIDs {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram chat id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	prefix := ""
	if cfg.Brand != "" {
		prefix = "[" + cfg.Brand + "] "
	}
	return &Telegram{
		sender:  sender,
		chatIDs: ids,
		prefix:  prefix,
		backoff: time.Second,
		pace:    newPacer(telegramBurst, telegramInterval),
		logger:  cfg.Logger,
	}, nil
}

// Notify sends text to every configured chat. Failures for one chat do not
// stop delivery to the others.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	text = t.prefix + text
	text = truncateUTF8(text, telegramMaxMsgLen)
	var errs []error
	for _, id := range t.chatIDs {
		if err := t.send(ctx, id, text); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// send retries transient failures with linear backoff, longer on rate limits.
func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if err := t.pace.Wait(ctx); err != nil {
			return err
		}
		if _, err = t.sender.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		wait := time.Duration(attempt+1) * t.backoff
		if msg := err.Error(); strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "429") {
			wait *= 3
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
