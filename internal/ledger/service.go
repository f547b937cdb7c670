// Package ledger credits reward claims and keeps the daily window accounting.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/repository"
	"github.com/Proton-105/coinwatch/pkg/config"
	"github.com/Proton-105/coinwatch/pkg/logger"
	"github.com/Proton-105/coinwatch/pkg/metrics"
)

const maxEntityIDLength = 256

// ClaimRequest asks for a reward of Type; EntityID is the video or channel id.
type ClaimRequest struct {
	Type     domain.RewardType `json:"type"`
	EntityID string            `json:"entityId"`
}

// ClaimResult reports the credited reward and the state after it.
type ClaimResult struct {
	Type       domain.RewardType `json:"type"`
	Amount     int64             `json:"amount"`
	NewBalance int64             `json:"coins"`
	DailyTotal int64             `json:"dailyTotal"`
	DailyCap   int64             `json:"dailyCap,omitempty"`
	NextGiftAt *time.Time        `json:"nextGiftAt,omitempty"`
}

// WatchSummary is what the watch page needs to render progress and buttons.
type WatchSummary struct {
	User               *domain.User `json:"user"`
	VideoID            string       `json:"videoId"`
	VideoClaimedToday  bool         `json:"videoClaimedToday"`
	VideoTotal         int64        `json:"totalVideoCoins"`
	VideoCap           int64        `json:"videoDailyCap"`
	VideoReachable     int64        `json:"videoReachableCap"`
	ChannelID          string       `json:"channelId,omitempty"`
	ChannelSubscribed  bool         `json:"channelSubscribed"`
	SubscribeTotal     int64        `json:"totalSubscribeCoins"`
	SubscribeCap       int64        `json:"subscribeDailyCap"`
	SubscribeReachable int64        `json:"subscribeReachableCap"`
	GiftAvailable      bool         `json:"giftAvailable"`
	NextGiftAt         *time.Time   `json:"nextGiftAt,omitempty"`
	WindowResetsAt     time.Time    `json:"windowResetsAt"`
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, used by tests to cross day boundaries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service applies the claim policies inside ledger transactions.
type Service struct {
	store    repository.TxRunner
	policies Policies
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates the reward ledger over store.
func NewService(store repository.TxRunner, rewards config.RewardsConfig, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		store:    store,
		policies: PoliciesFromConfig(rewards),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the rule applied to rewardType.
func (s *Service) Policy(rewardType domain.RewardType) (Policy, bool) {
	p, ok := s.policies[rewardType]
	return p, ok
}

// Claim credits a reward if the dedupe rule and daily ceiling allow it.
// The user row stays locked from the first check until the credit commits.
func (s *Service) Claim(ctx context.Context, id domain.Identity, req ClaimRequest) (*ClaimResult, error) {
	result, err := s.claim(ctx, id, req)

	outcome := "ok"
	if appErr, ok := apperrors.As(err); ok {
		outcome = claimOutcome(appErr.Code)
	} else if err != nil {
		outcome = "error"
	}

	var amount int64
	if result != nil {
		amount = result.Amount
	}
	label := string(req.Type)
	if !req.Type.Valid() {
		label = "unknown"
	}
	metrics.RecordClaim(label, outcome, amount)

	return result, err
}

func (s *Service) claim(ctx context.Context, id domain.Identity, req ClaimRequest) (*ClaimResult, error) {
	if !id.Authenticated() {
		return nil, apperrors.NewUnauthorizedError("reward claim without session")
	}

	policy, ok := s.policies[req.Type]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown reward type %q", req.Type))
	}

	entityID := strings.TrimSpace(req.EntityID)
	if req.Type.RequiresEntity() {
		if entityID == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("entityId is required for %s rewards", req.Type))
		}
		if len(entityID) > maxEntityIDLength {
			return nil, apperrors.NewValidationError("entityId is too long")
		}
	} else {
		entityID = ""
	}

	now := s.now().UTC()
	dayStart := StartOfUTCDay(now)

	var result *ClaimResult
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.LockUser(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFoundError("user")
			}
			return err
		}

		if err := s.checkDedupe(ctx, tx, policy, user.ID, entityID, now, dayStart); err != nil {
			return err
		}

		today, err := tx.SumRewardsSince(ctx, user.ID, policy.Type, dayStart)
		if err != nil {
			return err
		}
		if policy.exceedsCap(today) {
			return apperrors.NewLimitReachedError(policy.limitMessage())
		}

		reward := &domain.Reward{
			UserID:    user.ID,
			Type:      policy.Type,
			EntityID:  entityID,
			ClaimedAt: now,
			Amount:    policy.Amount,
		}
		if err := tx.InsertReward(ctx, reward); err != nil {
			return err
		}

		if policy.Type == domain.RewardSubscribe {
			sub := &domain.Subscription{UserID: user.ID, ChannelID: entityID, CreatedAt: now}
			if err := tx.InsertSubscription(ctx, sub); err != nil {
				if errors.Is(err, repository.ErrDuplicate) {
					return apperrors.NewAlreadyClaimedError("Already subscribed to this channel")
				}
				return err
			}
		}

		balance, err := tx.AdjustCoins(ctx, user.ID, policy.Amount)
		if err != nil {
			return err
		}

		result = &ClaimResult{
			Type:       policy.Type,
			Amount:     policy.Amount,
			NewBalance: balance,
			DailyTotal: today + policy.Amount,
			DailyCap:   policy.DailyCap,
		}
		if policy.Cooldown > 0 {
			next := now.Add(policy.Cooldown)
			result.NextGiftAt = &next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info("reward claimed",
		slog.Int64("user_id", id.UserID),
		slog.String("type", string(result.Type)),
		slog.Int64("amount", result.Amount),
		slog.Int64("balance", result.NewBalance),
	)

	return result, nil
}

func (s *Service) checkDedupe(
	ctx context.Context,
	tx repository.Tx,
	policy Policy,
	userID int64,
	entityID string,
	now, dayStart time.Time,
) error {
	switch policy.Type {
	case domain.RewardGift:
		next, err := nextGiftAt(ctx, tx, userID, policy.Cooldown)
		if err != nil {
			return err
		}
		if next != nil && now.Before(*next) {
			return apperrors.NewGiftCooldownError(*next)
		}
	case domain.RewardVideo:
		claimed, err := tx.RewardExistsSince(ctx, userID, domain.RewardVideo, entityID, dayStart)
		if err != nil {
			return err
		}
		if claimed {
			return apperrors.NewAlreadyClaimedError("Reward for this video already claimed today")
		}
	case domain.RewardSubscribe:
		subscribed, err := tx.SubscriptionExists(ctx, userID, entityID)
		if err != nil {
			return err
		}
		if subscribed {
			return apperrors.NewAlreadyClaimedError("Already subscribed to this channel")
		}
	}
	return nil
}

// nextGiftAt returns when the next gift becomes claimable, nil if the user never claimed one.
func nextGiftAt(ctx context.Context, tx repository.Tx, userID int64, cooldown time.Duration) (*time.Time, error) {
	last, err := tx.LatestReward(ctx, userID, domain.RewardGift)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	next := last.ClaimedAt.UTC().Add(cooldown)
	return &next, nil
}

// WatchData summarizes today's progress for videoID and, optionally, channelID.
func (s *Service) WatchData(ctx context.Context, id domain.Identity, videoID, channelID string) (*WatchSummary, error) {
	if !id.Authenticated() {
		return nil, apperrors.NewUnauthorizedError("watch data without session")
	}

	videoID = strings.TrimSpace(videoID)
	channelID = strings.TrimSpace(channelID)
	if videoID == "" {
		return nil, apperrors.NewValidationError("videoId is required")
	}

	now := s.now().UTC()
	dayStart := StartOfUTCDay(now)
	video := s.policies[domain.RewardVideo]
	subscribe := s.policies[domain.RewardSubscribe]
	gift := s.policies[domain.RewardGift]

	summary := &WatchSummary{
		VideoID:            videoID,
		VideoCap:           video.DailyCap,
		VideoReachable:     video.ReachableCap(),
		ChannelID:          channelID,
		SubscribeCap:       subscribe.DailyCap,
		SubscribeReachable: subscribe.ReachableCap(),
		WindowResetsAt:     NextUTCDay(now),
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.GetUser(ctx, id.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFoundError("user")
			}
			return err
		}
		summary.User = user

		if summary.VideoTotal, err = tx.SumRewardsSince(ctx, user.ID, domain.RewardVideo, dayStart); err != nil {
			return err
		}
		if summary.SubscribeTotal, err = tx.SumRewardsSince(ctx, user.ID, domain.RewardSubscribe, dayStart); err != nil {
			return err
		}
		if summary.VideoClaimedToday, err = tx.RewardExistsSince(ctx, user.ID, domain.RewardVideo, videoID, dayStart); err != nil {
			return err
		}
		if channelID != "" {
			if summary.ChannelSubscribed, err = tx.SubscriptionExists(ctx, user.ID, channelID); err != nil {
				return err
			}
		}

		next, err := nextGiftAt(ctx, tx, user.ID, gift.Cooldown)
		if err != nil {
			return err
		}
		summary.GiftAvailable = next == nil || !now.Before(*next)
		if !summary.GiftAvailable {
			summary.NextGiftAt = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// Adjust applies an admin correction to a user's balance and records it.
func (s *Service) Adjust(ctx context.Context, admin domain.Identity, userID, delta int64, reason string) (int64, error) {
	if !admin.Authenticated() {
		return 0, apperrors.NewUnauthorizedError("coin adjustment without session")
	}
	if !admin.IsAdmin {
		return 0, apperrors.NewForbiddenError("coin adjustment requires admin")
	}
	if delta == 0 {
		return 0, apperrors.NewValidationError("delta must not be zero")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return 0, apperrors.NewValidationError("reason is required")
	}

	now := s.now().UTC()
	var balance int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewNotFoundError("user")
			}
			return err
		}

		balance, err = tx.AdjustCoins(ctx, user.ID, delta)
		if err != nil {
			if errors.Is(err, repository.ErrInsufficientCoins) {
				return apperrors.NewInsufficientFundsError(user.Coins, -delta)
			}
			return err
		}

		return tx.InsertAdjustment(ctx, &domain.CoinAdjustment{
			UserID:    user.ID,
			AdminID:   admin.UserID,
			Delta:     delta,
			Reason:    reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return 0, err
	}

	logger.FromContext(ctx, s.log).Info("coins adjusted",
		slog.Int64("user_id", userID),
		slog.Int64("admin_id", admin.UserID),
		slog.Int64("delta", delta),
		slog.Int64("balance", balance),
	)
	return balance, nil
}

func claimOutcome(code string) string {
	switch code {
	case apperrors.CodeAlreadyClaimed:
		return "already_claimed"
	case apperrors.CodeLimitReached:
		return "limit_reached"
	case apperrors.CodeValidation:
		return "invalid"
	case apperrors.CodeUnauthorized:
		return "unauthorized"
	case apperrors.CodeNotFound:
		return "not_found"
	default:
		return "error"
	}
}
