// Package repository persists accounts, rewards and video submissions in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert or update.
	ErrDuplicate = errors.New("record already exists")
	// ErrInsufficientCoins is returned when a balance change would make coins negative.
	ErrInsufficientCoins = errors.New("balance would become negative")
)

// UserRepository defines persistence operations for accounts outside of ledger transactions.
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByName(ctx context.Context, name string) (*domain.User, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	// Create inserts user and fills in its ID and CreatedAt.
	Create(ctx context.Context, user *domain.User) error
	UpdateProfile(ctx context.Context, id int64, name, passwordHash string) error
	SetAdmin(ctx context.Context, id int64, isAdmin bool) error
	List(ctx context.Context) ([]domain.User, error)
}

// VideoRepository reads the moderation queue.
type VideoRepository interface {
	FindByID(ctx context.Context, id int64) (*domain.Video, error)
	// List returns videos newest first; an empty status means all.
	List(ctx context.Context, status domain.VideoStatus) ([]domain.Video, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// Tx is the set of statements that run inside a single database transaction.
// Every balance change goes through it together with the row that explains it.
type Tx interface {
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// LockUser reads the user row and holds it until the transaction ends.
	LockUser(ctx context.Context, id int64) (*domain.User, error)
	// AdjustCoins adds delta to the balance and returns the new value.
	// It fails with ErrInsufficientCoins instead of going below zero.
	AdjustCoins(ctx context.Context, userID, delta int64) (int64, error)

	SumRewardsSince(ctx context.Context, userID int64, rewardType domain.RewardType, since time.Time) (int64, error)
	// LatestReward returns ErrNotFound when the user never claimed rewardType.
	LatestReward(ctx context.Context, userID int64, rewardType domain.RewardType) (*domain.Reward, error)
	RewardExistsSince(ctx context.Context, userID int64, rewardType domain.RewardType, entityID string, since time.Time) (bool, error)
	InsertReward(ctx context.Context, reward *domain.Reward) error

	SubscriptionExists(ctx context.Context, userID int64, channelID string) (bool, error)
	InsertSubscription(ctx context.Context, sub *domain.Subscription) error

	InsertAdjustment(ctx context.Context, adj *domain.CoinAdjustment) error

	InsertVideo(ctx context.Context, video *domain.Video) error
	LockVideo(ctx context.Context, id int64) (*domain.Video, error)
	UpdateVideoStatus(ctx context.Context, id int64, status domain.VideoStatus, reviewedBy int64, reviewedAt time.Time) error
}

// TxRunner executes fn inside a transaction, committing when fn returns nil.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
