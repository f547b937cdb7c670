// Package submission charges the submission fee and queues videos for moderation.
package submission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/pkg/logger"
	"github.com/Proton-105/coinwatch/pkg/metrics"
)

// Request is the submit form as received over HTTP.
type Request struct {
	VideoURL string `json:"videoUrl" validate:"required,max=2048,http_url"`
}

// Result carries the queued video and the balance after the fee.
type Result struct {
	Video      domain.Video `json:"video"`
	NewBalance int64        `json:"coins"`
}

// Service is the video submission gate.
type Service struct {
	store    repository.TxRunner
	cost     int64
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a gate that charges cost coins per submission.
func NewService(store repository.TxRunner, cost int64, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		cost:     cost,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
		now:      time.Now,
	}
}

// Cost returns the fee charged per submission.
func (s *Service) Cost() int64 {
	return s.cost
}

// Submit deducts the fee and inserts a pending video in one transaction.
func (s *Service) Submit(ctx context.Context, id domain.Identity, rawURL string) (*Result, error) {
	result, err := s.submit(ctx, id, rawURL)

	switch appErr, ok := apperrors.As(err); {
	case err == nil:
		metrics.RecordSubmission("ok")
	case ok && appErr.Code == apperrors.CodeInsufficientFunds:
		metrics.RecordSubmission("insufficient_funds")
	case ok && appErr.Code == apperrors.CodeValidation:
		metrics.RecordSubmission("invalid")
	default:
		metrics.RecordSubmission("error")
	}

	return result, err
}

func (s *Service) submit(ctx context.Context, id domain.Identity, rawURL string) (*Result, error) {
	if !id.Authenticated() {
		return nil, apperrors.NewUnauthorizedError("video submission without session")
	}

	req := Request{VideoURL: strings.TrimSpace(rawURL)}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError("Invalid video URL")
	}

	now := s.now().UTC()
	var result *Result
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.LockUser(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFoundError("user")
			}
			return err
		}

		if user.Coins < s.cost {
			return apperrors.NewInsufficientFundsError(user.Coins, s.cost)
		}

		balance, err := tx.AdjustCoins(ctx, user.ID, -s.cost)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientCoins) {
				return apperrors.NewInsufficientFundsError(user.Coins, s.cost)
			}
			return err
		}

		video := domain.Video{
			URL:         req.VideoURL,
			SubmittedBy: user.ID,
			SubmittedAt: now,
			Status:      domain.VideoPending,
			Cost:        s.cost,
		}
		if err := tx.InsertVideo(ctx, &video); err != nil {
			return err
		}

		result = &Result{Video: video, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info("video submitted",
		slog.Int64("user_id", id.UserID),
		slog.Int64("video_id", result.Video.ID),
		slog.Int64("cost", s.cost),
		slog.Int64("balance", result.NewBalance),
	)

	return result, nil
}
