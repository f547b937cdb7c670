package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
)

// ErrDisabled is returned when no bot token is configured.
var ErrDisabled = errors.New("telegram notifications are disabled")

// Sender is the subset of telebot.Bot used to push messages.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// Notifier sends direct messages to linked Telegram accounts through a circuit breaker.
type Notifier struct {
	sender  Sender
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

// NewBot creates an offline bot client: no polling and no getMe on start.
func NewBot(token string) (*telebot.Bot, error) {
	if token == "" {
		return nil, ErrDisabled
	}
	bot, err := telebot.NewBot(telebot.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return bot, nil
}

// NewNotifier wraps sender. A nil sender yields a notifier that always reports ErrDisabled.
func NewNotifier(sender Sender, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		sender:  sender,
		breaker: apperrors.NewCircuitBreaker(apperrors.DefaultBreakerSettings),
		log:     log,
	}
}

// Enabled reports whether messages can be delivered.
func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil
}

// SendText delivers text to the chat of telegramID.
func (n *Notifier) SendText(ctx context.Context, telegramID int64, text string) error {
	if !n.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := n.breaker.Call(func() error {
		_, err := n.sender.Send(&telebot.User{ID: telegramID}, text)
		return err
	})
	if err != nil {
		n.log.Warn("telegram send failed",
			slog.Int64("telegram_id", telegramID),
			slog.String("breaker", n.breaker.State().String()),
			slog.Any("error", err),
		)
		return apperrors.NewExternalAPIError("telegram", err)
	}
	return nil
}

// HealthCheck fails while the breaker is open.
func (n *Notifier) HealthCheck(context.Context) error {
	if !n.Enabled() {
		return ErrDisabled
	}
	if n.breaker.State() == apperrors.StateOpen {
		return apperrors.ErrCircuitOpen
	}
	return nil
}
