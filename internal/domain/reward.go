package domain

import "time"

// RewardType names one of the claimable reward kinds.
type RewardType string

const (
	RewardVideo     RewardType = "video"
	RewardGift      RewardType = "gift"
	RewardSubscribe RewardType = "subscribe"
)

// Valid reports whether t is a known reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardVideo, RewardGift, RewardSubscribe:
		return true
	default:
		return false
	}
}

// RequiresEntity reports whether claims of type t must name a video or channel.
func (t RewardType) RequiresEntity() bool {
	return t == RewardVideo || t == RewardSubscribe
}

// Reward is an append-only record of coins credited for an action.
type Reward struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	Type      RewardType `json:"type"`
	EntityID  string     `json:"entityId,omitempty"`
	ClaimedAt time.Time  `json:"claimedAt"`
	Amount    int64      `json:"amount"`
}

// Subscription records that a user was paid for subscribing to a channel.
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	ChannelID string    `json:"channelId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CoinAdjustment is an admin correction of a balance.
type CoinAdjustment struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	AdminID   int64     `json:"adminId"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}
