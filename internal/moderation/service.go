// Package moderation moves submitted videos through review and notifies submitters.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/pkg/logger"
	"github.com/Proton-105/coinwatch/pkg/metrics"
)

// Decision is the outcome of a review, handed to the notifier after commit.
type Decision struct {
	VideoID     int64              `json:"video_id"`
	URL         string             `json:"url"`
	SubmittedBy int64              `json:"submitted_by"`
	Status      domain.VideoStatus `json:"status"`
	ReviewedBy  int64              `json:"reviewed_by"`
	ReviewedAt  time.Time          `json:"reviewed_at"`
}

// Notifier schedules the delivery of a decision to the submitter.
type Notifier interface {
	NotifyDecision(ctx context.Context, decision Decision) error
}

// Queue is the admin dashboard payload.
type Queue struct {
	Videos []domain.Video `json:"videos"`
	Users  []domain.User  `json:"users"`
}

// Service applies admin decisions to submitted videos.
type Service struct {
	store    repository.TxRunner
	videos   repository.VideoRepository
	users    repository.UserRepository
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewService builds the moderation service. notifier may be nil.
func NewService(
	store repository.TxRunner,
	videos repository.VideoRepository,
	users repository.UserRepository,
	notifier Notifier,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:    store,
		videos:   videos,
		users:    users,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

func requireAdmin(id domain.Identity) error {
	if !id.Authenticated() {
		return apperrors.NewUnauthorizedError("moderation without session")
	}
	if !id.IsAdmin {
		return apperrors.NewForbiddenError("moderation requires admin")
	}
	return nil
}

// Transition moves a pending video to approved or rejected. The video row is
// locked so two admins cannot decide the same video twice.
func (s *Service) Transition(ctx context.Context, admin domain.Identity, videoID int64, to domain.VideoStatus) (*domain.Video, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if to != domain.VideoApproved && to != domain.VideoRejected {
		return nil, apperrors.NewValidationError(fmt.Sprintf("status must be %q or %q", domain.VideoApproved, domain.VideoRejected))
	}

	now := s.now().UTC()
	var (
		updated *domain.Video
		from    domain.VideoStatus
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		video, err := tx.LockVideo(ctx, videoID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFoundError("video")
			}
			return err
		}

		from = video.Status
		if !IsTransitionAllowed(from, to) {
			return apperrors.NewStateError(fmt.Sprintf("video %d is %s and cannot become %s", video.ID, from, to))
		}

		if err := tx.UpdateVideoStatus(ctx, video.ID, to, admin.UserID, now); err != nil {
			return err
		}

		reviewer := admin.UserID
		video.Status = to
		video.ReviewedBy = &reviewer
		video.ReviewedAt = &now
		updated = video
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
			logger.FromContext(ctx, s.log).Warn("invalid moderation transition",
				slog.Int64("video_id", videoID), slog.String("from", string(from)), slog.String("to", string(to)))
		}
		return nil, err
	}

	metrics.RecordModerationTransition(string(from), string(to))
	log := logger.FromContext(ctx, s.log)
	log.Info("video reviewed",
		slog.Int64("video_id", updated.ID),
		slog.Int64("admin_id", admin.UserID),
		slog.String("status", string(to)),
	)

	if s.notifier != nil {
		decision := Decision{
			VideoID:     updated.ID,
			URL:         updated.URL,
			SubmittedBy: updated.SubmittedBy,
			Status:      to,
			ReviewedBy:  admin.UserID,
			ReviewedAt:  now,
		}
		if err := s.notifier.NotifyDecision(ctx, decision); err != nil {
			log.Warn("failed to schedule moderation notice", slog.Int64("video_id", updated.ID), slog.Any("error", err))
		}
	}

	return updated, nil
}

// List returns the moderation queue, optionally narrowed to one status, with all users.
func (s *Service) List(ctx context.Context, admin domain.Identity, status domain.VideoStatus) (*Queue, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}

	videos, err := s.videos.List(ctx, status)
	if err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.User{}
	}

	return &Queue{Videos: videos, Users: users}, nil
}
