// Package handlers processes the asynq tasks defined in package jobs.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/coinwatch/internal/domain"
	"github.com/Proton-105/coinwatch/internal/jobs"
	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/internal/repository"
)

// UserFinder loads the submitter of a video.
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
}

// MessageSender delivers a text message to a Telegram account.
type MessageSender interface {
	Enabled() bool
	SendText(ctx context.Context, telegramID int64, text string) error
}

// NotifyHandler delivers moderation decisions to submitters over Telegram.
type NotifyHandler struct {
	users  UserFinder
	sender MessageSender
	log    *slog.Logger
}

func NewNotifyHandler(users UserFinder, sender MessageSender, log *slog.Logger) *NotifyHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotifyHandler{users: users, sender: sender, log: log}
}

// ProcessTask sends the message. Submitters without a linked Telegram account
// are skipped; delivery failures are retried by asynq.
func (h *NotifyHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	d, err := jobs.ParseModerationNotify(t)
	if err != nil {
		h.log.ErrorContext(ctx, "moderation notify: bad payload", slog.Any("error", err))
		return err
	}

	log := h.log.With(slog.Int64("video_id", d.VideoID), slog.Int64("user_id", d.SubmittedBy))

	if h.sender == nil || !h.sender.Enabled() {
		log.DebugContext(ctx, "moderation notify: telegram disabled, skipping")
		return nil
	}

	user, err := h.users.FindByID(ctx, d.SubmittedBy)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("submitter %d: %w: %w", d.SubmittedBy, err, asynq.SkipRetry)
		}
		return err
	}
	if user.TelegramID == nil {
		log.DebugContext(ctx, "moderation notify: no telegram account linked")
		return nil
	}

	if err := h.sender.SendText(ctx, *user.TelegramID, DecisionText(d)); err != nil {
		return err
	}

	log.InfoContext(ctx, "moderation notify: delivered", slog.String("status", string(d.Status)))
	return nil
}

// DecisionText is the message shown to the submitter.
func DecisionText(d moderation.Decision) string {
	switch d.Status {
	case domain.VideoApproved:
		return fmt.Sprintf("Your video %s was approved and is now in the watch list.", d.URL)
	case domain.VideoRejected:
		return fmt.Sprintf("Your video %s was rejected by moderation.", d.URL)
	default:
		return fmt.Sprintf("Your video %s is now %s.", d.URL, d.Status)
	}
}
