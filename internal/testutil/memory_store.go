// Package testutil provides in-memory fakes shared by service tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Proton-105/coinwatch/internal/domain"
	"github.com/Proton-105/coinwatch/internal/repository"
)

type storeState struct {
	users         map[int64]domain.User
	rewards       []domain.Reward
	subscriptions []domain.Subscription
	adjustments   []domain.CoinAdjustment
	videos        map[int64]domain.Video
	nextID        int64
}

func (s storeState) clone() storeState {
	out := storeState{
		users:         make(map[int64]domain.User, len(s.users)),
		rewards:       append([]domain.Reward(nil), s.rewards...),
		subscriptions: append([]domain.Subscription(nil), s.subscriptions...),
		adjustments:   append([]domain.CoinAdjustment(nil), s.adjustments...),
		videos:        make(map[int64]domain.Video, len(s.videos)),
		nextID:        s.nextID,
	}
	for id, u := range s.users {
		out.users[id] = u
	}
	for id, v := range s.videos {
		out.videos[id] = v
	}
	return out
}

// MemoryStore is an in-memory stand-in for the PostgreSQL repositories.
// Transactions are serialized by a single mutex and roll back on error.
type MemoryStore struct {
	mu    sync.Mutex
	state storeState
	// Now stamps CreatedAt on new users.
	Now func() time.Time
}

var (
	_ repository.UserRepository  = (*MemoryStore)(nil)
	_ repository.TxRunner        = (*MemoryStore)(nil)
	_ repository.VideoRepository = memoryVideos{}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: storeState{
			users:  make(map[int64]domain.User),
			videos: make(map[int64]domain.Video),
		},
		Now: time.Now,
	}
}

// AddUser inserts u directly and returns the stored copy.
func (m *MemoryStore) AddUser(u domain.User) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.nextID++
	u.ID = m.state.nextID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.Now()
	}
	m.state.users[u.ID] = u
	return u
}

// Balance returns the stored coins of a user.
func (m *MemoryStore) Balance(id int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.users[id].Coins
}

// Rewards returns a copy of every stored reward.
func (m *MemoryStore) Rewards() []domain.Reward {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Reward(nil), m.state.rewards...)
}

// Adjustments returns a copy of every stored coin adjustment.
func (m *MemoryStore) Adjustments() []domain.CoinAdjustment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CoinAdjustment(nil), m.state.adjustments...)
}

// AddVideo inserts v directly and returns the stored copy.
func (m *MemoryStore) AddVideo(v domain.Video) domain.Video {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.nextID++
	v.ID = m.state.nextID
	m.state.videos[v.ID] = v
	return v
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// UserRepository

func (m *MemoryStore) FindByID(_ context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.state.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) findUser(match func(domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.state.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MemoryStore) FindByName(_ context.Context, name string) (*domain.User, error) {
	return m.findUser(func(u domain.User) bool { return u.Name == name })
}

func (m *MemoryStore) FindByTelegramID(_ context.Context, telegramID int64) (*domain.User, error) {
	return m.findUser(func(u domain.User) bool { return u.TelegramID != nil && *u.TelegramID == telegramID })
}

func (m *MemoryStore) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.state.users {
		if u.Name == user.Name {
			return repository.ErrDuplicate
		}
		if user.TelegramID != nil && u.TelegramID != nil && *u.TelegramID == *user.TelegramID {
			return repository.ErrDuplicate
		}
	}

	m.state.nextID++
	user.ID = m.state.nextID
	user.CreatedAt = m.Now()
	m.state.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, id int64, name, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.state.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	for otherID, other := range m.state.users {
		if otherID != id && other.Name == name {
			return repository.ErrDuplicate
		}
	}
	u.Name = name
	u.PasswordHash = passwordHash
	m.state.users[id] = u
	return nil
}

func (m *MemoryStore) SetAdmin(_ context.Context, id int64, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.state.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsAdmin = isAdmin
	m.state.users[id] = u
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]domain.User, 0, len(m.state.users))
	for _, u := range m.state.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// Videos returns the video repository view of the store.
func (m *MemoryStore) Videos() repository.VideoRepository {
	return memoryVideos{m}
}

func (m *MemoryStore) CountByStatus(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[string]int64{
		string(domain.VideoPending):  0,
		string(domain.VideoApproved): 0,
		string(domain.VideoRejected): 0,
	}
	for _, v := range m.state.videos {
		counts[string(v.Status)]++
	}
	return counts, nil
}

type memoryVideos struct {
	m *MemoryStore
}

func (v memoryVideos) FindByID(_ context.Context, id int64) (*domain.Video, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	video, ok := v.m.state.videos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &video, nil
}

func (v memoryVideos) List(_ context.Context, status domain.VideoStatus) ([]domain.Video, error) {
	v.m.mu.Lock()
	defer v.m.mu.Unlock()

	videos := make([]domain.Video, 0, len(v.m.state.videos))
	for _, video := range v.m.state.videos {
		if status == "" || video.Status == status {
			videos = append(videos, video)
		}
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].SubmittedAt.Equal(videos[j].SubmittedAt) {
			return videos[i].ID > videos[j].ID
		}
		return videos[i].SubmittedAt.After(videos[j].SubmittedAt)
	})
	return videos, nil
}

func (v memoryVideos) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return v.m.CountByStatus(ctx)
}

type memoryTx struct {
	s *storeState
}

func (t *memoryTx) GetUser(_ context.Context, id int64) (*domain.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (t *memoryTx) LockUser(ctx context.Context, id int64) (*domain.User, error) {
	return t.GetUser(ctx, id)
}

func (t *memoryTx) AdjustCoins(_ context.Context, userID, delta int64) (int64, error) {
	u, ok := t.s.users[userID]
	if !ok || u.Coins+delta < 0 {
		return 0, repository.ErrInsufficientCoins
	}
	u.Coins += delta
	t.s.users[userID] = u
	return u.Coins, nil
}

func (t *memoryTx) SumRewardsSince(_ context.Context, userID int64, rewardType domain.RewardType, since time.Time) (int64, error) {
	var total int64
	for _, r := range t.s.rewards {
		if r.UserID == userID && r.Type == rewardType && !r.ClaimedAt.Before(since) {
			total += r.Amount
		}
	}
	return total, nil
}

func (t *memoryTx) LatestReward(_ context.Context, userID int64, rewardType domain.RewardType) (*domain.Reward, error) {
	var latest *domain.Reward
	for i := range t.s.rewards {
		r := t.s.rewards[i]
		if r.UserID != userID || r.Type != rewardType {
			continue
		}
		if latest == nil || r.ClaimedAt.After(latest.ClaimedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

func (t *memoryTx) RewardExistsSince(_ context.Context, userID int64, rewardType domain.RewardType, entityID string, since time.Time) (bool, error) {
	for _, r := range t.s.rewards {
		if r.UserID == userID && r.Type == rewardType && r.EntityID == entityID && !r.ClaimedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertReward(_ context.Context, reward *domain.Reward) error {
	if _, ok := t.s.users[reward.UserID]; !ok {
		return repository.ErrNotFound
	}
	t.s.nextID++
	reward.ID = t.s.nextID
	t.s.rewards = append(t.s.rewards, *reward)
	return nil
}

func (t *memoryTx) SubscriptionExists(_ context.Context, userID int64, channelID string) (bool, error) {
	for _, s := range t.s.subscriptions {
		if s.UserID == userID && s.ChannelID == channelID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertSubscription(ctx context.Context, sub *domain.Subscription) error {
	if exists, _ := t.SubscriptionExists(ctx, sub.UserID, sub.ChannelID); exists {
		return repository.ErrDuplicate
	}
	t.s.nextID++
	sub.ID = t.s.nextID
	t.s.subscriptions = append(t.s.subscriptions, *sub)
	return nil
}

func (t *memoryTx) InsertAdjustment(_ context.Context, adj *domain.CoinAdjustment) error {
	t.s.nextID++
	adj.ID = t.s.nextID
	t.s.adjustments = append(t.s.adjustments, *adj)
	return nil
}

func (t *memoryTx) InsertVideo(_ context.Context, video *domain.Video) error {
	t.s.nextID++
	video.ID = t.s.nextID
	t.s.videos[video.ID] = *video
	return nil
}

func (t *memoryTx) LockVideo(_ context.Context, id int64) (*domain.Video, error) {
	v, ok := t.s.videos[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (t *memoryTx) UpdateVideoStatus(_ context.Context, id int64, status domain.VideoStatus, reviewedBy int64, reviewedAt time.Time) error {
	v, ok := t.s.videos[id]
	if !ok {
		return repository.ErrNotFound
	}
	v.Status = status
	v.ReviewedBy = &reviewedBy
	v.ReviewedAt = &reviewedAt
	t.s.videos[id] = v
	return nil
}
