// Package notify delivers best-effort messages to agents.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Notification is a short message with machine-readable attributes.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier sends a notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, n Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, int64, Notification) error { return nil }

// Sender is the subset of tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatResolver maps a user to the chat that receives their notifications.
type ChatResolver interface {
	ChatIDForUser(ctx context.Context, userID int64) (int64, error)
}

// RetryConfig controls resending after Telegram errors.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  2,
		RetryDelays: []time.Duration{time.Second, 3 * time.Second},
	}
}

// TelegramNotifier sends notifications through a Telegram bot.
type TelegramNotifier struct {
	sender  Sender
	chats   ChatResolver
	limiter *rate.Limiter
	retry   RetryConfig
	logger  *zerolog.Logger
}

// NewTelegramNotifier builds a notifier limited to ratePerSecond messages with burst.
// Non-positive values fall back to 20 msg/s with a burst of 30.
func NewTelegramNotifier(sender Sender, chats ChatResolver, ratePerSecond float64, burst int, logger *zerolog.Logger) *TelegramNotifier {
	if ratePerSecond <= 0 {
		ratePerSecond = 20
	}
	if burst <= 0 {
		burst = 30
	}
	l := logger.With().Str("component", "notify").Logger()
	return &TelegramNotifier{
		sender:  sender,
		chats:   chats,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		retry:   DefaultRetryConfig(),
		logger:  &l,
	}
}

// WithRetry replaces the retry configuration.
func (t *TelegramNotifier) WithRetry(cfg RetryConfig) *TelegramNotifier {
	t.retry = cfg
	return t
}

func (t *TelegramNotifier) Notify(ctx context.Context, userID int64, n Notification) error {
	chatID := userID
	if t.chats != nil {
		resolved, err := t.chats.ChatIDForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("resolve chat for user %d: %w", userID, err)
		}
		chatID = resolved
	}
	if chatID == 0 {
		return fmt.Errorf("no chat for user %d", userID)
	}

	msg := tgbotapi.NewMessage(chatID, Format(n))

	var lastErr error
	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.retryDelay(attempt, lastErr)
			t.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Int64("chat_id", chatID).Msg("Retrying notification")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		_, err := t.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return fmt.Errorf("send to chat %d: %w", chatID, lastErr)
}

func (t *TelegramNotifier) retryDelay(attempt int, err error) time.Duration {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	if len(t.retry.RetryDelays) == 0 {
		return time.Second
	}
	idx := attempt - 1
	if idx >= len(t.retry.RetryDelays) {
		idx = len(t.retry.RetryDelays) - 1
	}
	return t.retry.RetryDelays[idx]
}

// retryable reports whether Telegram may accept the same message later.
// Client errors other than 429 are permanent.
func retryable(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return true
	}
	return tgErr.Code == 429 || tgErr.Code >= 500
}

// Format renders a notification as plain message text.
func Format(n Notification) string {
	var b strings.Builder
	b.WriteString(n.Title)
	if n.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(n.Body)
	}
	return b.String()
}
