package ledger

import (
	"fmt"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
	"github.com/Proton-105/coinwatch/pkg/config"
)

// Policy describes how much a reward type pays and how often.
type Policy struct {
	Type   domain.RewardType
	Amount int64
	// DailyCap bounds the sum claimed since UTC midnight; zero means unbounded.
	DailyCap int64
	// Cooldown is the rolling wait between two claims; zero means none.
	Cooldown time.Duration
}

// Policies indexes the policy of each reward type.
type Policies map[domain.RewardType]Policy

// PoliciesFromConfig builds the claim rules from the rewards section.
func PoliciesFromConfig(cfg config.RewardsConfig) Policies {
	return Policies{
		domain.RewardVideo: {
			Type:     domain.RewardVideo,
			Amount:   cfg.VideoAmount,
			DailyCap: cfg.VideoDailyCap,
		},
		domain.RewardGift: {
			Type:     domain.RewardGift,
			Amount:   cfg.GiftAmount,
			Cooldown: cfg.GiftCooldown,
		},
		domain.RewardSubscribe: {
			Type:     domain.RewardSubscribe,
			Amount:   cfg.SubscribeAmount,
			DailyCap: cfg.SubscribeDailyCap,
		},
	}
}

// DefaultRewards mirrors the production defaults.
func DefaultRewards() config.RewardsConfig {
	return config.RewardsConfig{
		VideoAmount:       30,
		VideoDailyCap:     650,
		GiftAmount:        10,
		GiftCooldown:      24 * time.Hour,
		SubscribeAmount:   5,
		SubscribeDailyCap: 150,
		SubmissionCost:    1250,
	}
}

// exceedsCap reports whether adding amount to today's total would pass the ceiling.
func (p Policy) exceedsCap(today int64) bool {
	return p.DailyCap > 0 && today+p.Amount > p.DailyCap
}

// ReachableCap is the most that whole claims can add up to within one window.
// It is below DailyCap when DailyCap is not a multiple of Amount; zero means
// unbounded.
func (p Policy) ReachableCap() int64 {
	if p.DailyCap <= 0 || p.Amount <= 0 {
		return p.DailyCap
	}
	return p.DailyCap / p.Amount * p.Amount
}

func (p Policy) limitMessage() string {
	reachable := p.ReachableCap()
	if reachable == p.DailyCap {
		return fmt.Sprintf("Daily %s reward limit of %d coins reached", p.Type, p.DailyCap)
	}
	return fmt.Sprintf("Daily %s reward limit reached: %d of %d coins can be earned per day in %d-coin claims",
		p.Type, reachable, p.DailyCap, p.Amount)
}
