// Package session stores opaque login sessions in Redis.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyPrefix      = "session:"
	sessionScanPattern    = "session:*"
	userSessionsKeyPrefix = "user_sessions:"
)

// ErrSessionNotFound indicates that the token is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists sessions in Redis with a TTL equal to their lifetime.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// NewStore creates a Redis-backed session store.
func NewStore(client *redis.Client, ttl time.Duration, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return &Store{
		client: client,
		ttl:    ttl,
		log:    log,
		now:    time.Now,
	}
}

// TTL returns the lifetime given to new sessions.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create issues a new session for userID.
func (s *Store) Create(ctx context.Context, userID int64) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.Token), data, s.ttl)
	pipe.SAdd(ctx, userSessionsKey(userID), sess.Token)
	pipe.Expire(ctx, userSessionsKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Error("failed to store session", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, fmt.Errorf("store session: %w", err)
	}

	return sess, nil
}

// Resolve returns the live session for token or ErrSessionNotFound.
func (s *Store) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	data, err := s.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.log.Error("failed to decode session", slog.Any("error", err))
		return nil, ErrSessionNotFound
	}
	sess.Token = token

	if !s.now().Before(sess.ExpiresAt) {
		return nil, ErrSessionNotFound
	}

	return &sess, nil
}

// Delete drops a single session; unknown tokens are ignored.
func (s *Store) Delete(ctx context.Context, token string) error {
	sess, err := s.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(token))
	pipe.SRem(ctx, userSessionsKey(sess.UserID), token)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteAllForUser drops every session of userID and reports how many were removed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID int64) (int, error) {
	tokens, err := s.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("list user sessions: %w", err)
	}

	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, sessionKey(token))
	}

	pipe := s.client.TxPipeline()
	removed := pipe.Del(ctx, keys...)
	pipe.Del(ctx, userSessionsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}

	return int(removed.Val()), nil
}

// Count returns the number of live sessions.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		total  int64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionScanPattern, 200).Result()
		if err != nil {
			return 0, fmt.Errorf("scan sessions: %w", err)
		}
		total += int64(len(keys))

		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func userSessionsKey(userID int64) string {
	return userSessionsKeyPrefix + strconv.FormatInt(userID, 10)
}
