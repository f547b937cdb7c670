package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
)

type pgTx struct {
	q querier
}

var _ Tx = (*pgTx)(nil)

const userColumns = `id, name, password_hash, coins, is_admin, telegram_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user       domain.User
		telegramID sql.NullInt64
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.PasswordHash,
		&user.Coins,
		&user.IsAdmin,
		&telegramID,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}
	if telegramID.Valid {
		id := telegramID.Int64
		user.TelegramID = &id
	}
	return &user, nil
}

func (t *pgTx) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

func (t *pgTx) LockUser(ctx context.Context, id int64) (*domain.User, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, classify(err)
	}
	return user, nil
}

// AdjustCoins relies on the caller holding the user lock: a missing row and
// an overdraft are indistinguishable here.
func (t *pgTx) AdjustCoins(ctx context.Context, userID, delta int64) (int64, error) {
	const query = `
		UPDATE users
		SET coins = coins + $1
		WHERE id = $2 AND coins + $1 >= 0
		RETURNING coins
	`

	var balance int64
	if err := t.q.QueryRowContext(ctx, query, delta, userID).Scan(&balance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInsufficientCoins
		}
		return 0, classify(fmt.Errorf("adjust coins: %w", err))
	}
	return balance, nil
}

func (t *pgTx) SumRewardsSince(ctx context.Context, userID int64, rewardType domain.RewardType, since time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM rewards
		WHERE user_id = $1 AND type = $2 AND claimed_at >= $3
	`

	var total int64
	if err := t.q.QueryRowContext(ctx, query, userID, string(rewardType), since).Scan(&total); err != nil {
		return 0, classify(fmt.Errorf("sum rewards: %w", err))
	}
	return total, nil
}

func (t *pgTx) LatestReward(ctx context.Context, userID int64, rewardType domain.RewardType) (*domain.Reward, error) {
	const query = `
		SELECT id, user_id, type, entity_id, claimed_at, amount
		FROM rewards
		WHERE user_id = $1 AND type = $2
		ORDER BY claimed_at DESC
		LIMIT 1
	`

	var (
		reward   domain.Reward
		kind     string
		entityID sql.NullString
	)
	err := t.q.QueryRowContext(ctx, query, userID, string(rewardType)).Scan(
		&reward.ID,
		&reward.UserID,
		&kind,
		&entityID,
		&reward.ClaimedAt,
		&reward.Amount,
	)
	if err != nil {
		return nil, classify(err)
	}
	reward.Type = domain.RewardType(kind)
	reward.EntityID = entityID.String
	return &reward, nil
}

func (t *pgTx) RewardExistsSince(ctx context.Context, userID int64, rewardType domain.RewardType, entityID string, since time.Time) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM rewards
			WHERE user_id = $1 AND type = $2 AND entity_id = $3 AND claimed_at >= $4
		)
	`

	var exists bool
	if err := t.q.QueryRowContext(ctx, query, userID, string(rewardType), entityID, since).Scan(&exists); err != nil {
		return false, classify(fmt.Errorf("reward exists: %w", err))
	}
	return exists, nil
}

func (t *pgTx) InsertReward(ctx context.Context, reward *domain.Reward) error {
	const query = `
		INSERT INTO rewards (user_id, type, entity_id, claimed_at, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	entityID := sql.NullString{String: reward.EntityID, Valid: reward.EntityID != ""}
	err := t.q.QueryRowContext(ctx, query,
		reward.UserID,
		string(reward.Type),
		entityID,
		reward.ClaimedAt,
		reward.Amount,
	).Scan(&reward.ID)
	if err != nil {
		return classify(fmt.Errorf("insert reward: %w", err))
	}
	return nil
}

func (t *pgTx) SubscriptionExists(ctx context.Context, userID int64, channelID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1 AND channel_id = $2)`

	var exists bool
	if err := t.q.QueryRowContext(ctx, query, userID, channelID).Scan(&exists); err != nil {
		return false, classify(fmt.Errorf("subscription exists: %w", err))
	}
	return exists, nil
}

func (t *pgTx) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	const query = `
		INSERT INTO subscriptions (user_id, channel_id, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	if err := t.q.QueryRowContext(ctx, query, sub.UserID, sub.ChannelID, sub.CreatedAt).Scan(&sub.ID); err != nil {
		return classify(fmt.Errorf("insert subscription: %w", err))
	}
	return nil
}

func (t *pgTx) InsertAdjustment(ctx context.Context, adj *domain.CoinAdjustment) error {
	const query = `
		INSERT INTO coin_adjustments (user_id, admin_id, delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := t.q.QueryRowContext(ctx, query, adj.UserID, adj.AdminID, adj.Delta, adj.Reason, adj.CreatedAt).Scan(&adj.ID)
	if err != nil {
		return classify(fmt.Errorf("insert coin adjustment: %w", err))
	}
	return nil
}

const videoColumns = `id, url, submitted_by, submitted_at, status, cost, reviewed_by, reviewed_at`

func scanVideo(row rowScanner) (*domain.Video, error) {
	var (
		video      domain.Video
		status     string
		reviewedBy sql.NullInt64
		reviewedAt sql.NullTime
	)
	if err := row.Scan(
		&video.ID,
		&video.URL,
		&video.SubmittedBy,
		&video.SubmittedAt,
		&status,
		&video.Cost,
		&reviewedBy,
		&reviewedAt,
	); err != nil {
		return nil, err
	}

	video.Status = domain.VideoStatus(status)
	if reviewedBy.Valid {
		id := reviewedBy.Int64
		video.ReviewedBy = &id
	}
	if reviewedAt.Valid {
		at := reviewedAt.Time
		video.ReviewedAt = &at
	}
	return &video, nil
}

func (t *pgTx) InsertVideo(ctx context.Context, video *domain.Video) error {
	const query = `
		INSERT INTO videos (url, submitted_by, submitted_at, status, cost)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := t.q.QueryRowContext(ctx, query,
		video.URL,
		video.SubmittedBy,
		video.SubmittedAt,
		string(video.Status),
		video.Cost,
	).Scan(&video.ID)
	if err != nil {
		return classify(fmt.Errorf("insert video: %w", err))
	}
	return nil
}

func (t *pgTx) LockVideo(ctx context.Context, id int64) (*domain.Video, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1 FOR UPDATE`, id)
	video, err := scanVideo(row)
	if err != nil {
		return nil, classify(err)
	}
	return video, nil
}

func (t *pgTx) UpdateVideoStatus(ctx context.Context, id int64, status domain.VideoStatus, reviewedBy int64, reviewedAt time.Time) error {
	const query = `
		UPDATE videos
		SET status = $1, reviewed_by = $2, reviewed_at = $3
		WHERE id = $4
	`

	res, err := t.q.ExecContext(ctx, query, string(status), reviewedBy, reviewedAt, id)
	if err != nil {
		return classify(fmt.Errorf("update video status: %w", err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
