package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestManager_ReplaysCompletedResponse(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), time.Second, testLogger())
	ctx := context.Background()

	calls := 0
	op := func(context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: http.StatusOK, ContentType: "application/json", Body: []byte(`{"coins":10}`)}, nil
	}

	first, err := m.Execute(ctx, "k1", "fp", time.Hour, op)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := m.Execute(ctx, "k1", "fp", time.Hour, op)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, http.StatusOK, second.Response.StatusCode)
	assert.Equal(t, "application/json", second.Response.ContentType)
	assert.JSONEq(t, `{"coins":10}`, string(second.Response.Body))
	assert.Equal(t, 1, calls)

	_, err = m.Execute(ctx, "k1", "other", time.Hour, op)
	assert.ErrorIs(t, err, ErrKeyReused)
}

func TestManager_DoesNotCacheFailures(t *testing.T) {
	client, _ := setupTestRedis(t)
	m := NewManager(NewRedisStore(client, testLogger()), time.Second, testLogger())
	ctx := context.Background()

	calls := 0
	_, err := m.Execute(ctx, "k2", "fp", time.Hour, func(context.Context) (*Response, error) {
		calls++
		return nil, errors.New("boom")
	})
	require.Error(t, err)

	res, err := m.Execute(ctx, "k2", "fp", time.Hour, func(context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: http.StatusInternalServerError}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = m.Execute(ctx, "k2", "fp", time.Hour, func(context.Context) (*Response, error) {
		calls++
		return &Response{StatusCode: http.StatusConflict, Body: []byte(`{}`)}, nil
	})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3, calls)
}

func TestManager_InProgress(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewRedisStore(client, testLogger())
	m := NewManager(store, 150*time.Millisecond, testLogger())
	ctx := context.Background()

	locked, err := store.Lock(ctx, "k3", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = m.Execute(ctx, "k3", "fp", time.Hour, func(context.Context) (*Response, error) {
		t.Fatal("operation must not run while locked")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

// finishFirstStore completes the record of a competing request just before
// the lock is granted.
type finishFirstStore struct {
	Store
	record *Record
}

func (s *finishFirstStore) Lock(ctx context.Context, key string, lockTTL time.Duration) (bool, error) {
	if err := s.Store.Set(ctx, key, s.record, time.Hour); err != nil {
		return false, err
	}
	return s.Store.Lock(ctx, key, lockTTL)
}

func TestManager_RechecksRecordAfterLock(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		fingerprint string
		wantErr     error
	}{
		{name: "same request replays", fingerprint: "fp"},
		{name: "different request is rejected", fingerprint: "other", wantErr: ErrKeyReused},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			key := "race:" + tc.fingerprint
			store := &finishFirstStore{
				Store: NewRedisStore(client, testLogger()),
				record: &Record{
					Status:      StatusCompleted,
					Fingerprint: "fp",
					StatusCode:  http.StatusCreated,
					ContentType: "application/json",
					Body:        []byte(`{"coins":0}`),
				},
			}
			m := NewManager(store, time.Second, testLogger())

			calls := 0
			res, err := m.Execute(ctx, key, tc.fingerprint, time.Hour, func(context.Context) (*Response, error) {
				calls++
				return &Response{StatusCode: http.StatusCreated}, nil
			})

			assert.Zero(t, calls)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, res.FromCache)
				assert.Equal(t, http.StatusCreated, res.Response.StatusCode)
				assert.JSONEq(t, `{"coins":0}`, string(res.Response.Body))
			}

			locked, err := store.Store.Lock(ctx, key, time.Minute)
			require.NoError(t, err)
			assert.True(t, locked, "lock must be released")
		})
	}
}

func TestCleaner_RemovesKeysWithoutExpiry(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, client.HSet(ctx, "idempotency:stale", "status", StatusCompleted).Err())
	require.NoError(t, client.Set(ctx, "idempotency:fresh", "x", time.Hour).Err())
	require.NoError(t, client.Set(ctx, "idempotency:far", "x", 72*time.Hour).Err())
	require.NoError(t, client.Set(ctx, "session:keep", "x", 0).Err())

	cleaner := NewCleaner(client, testLogger(), time.Minute, 24*time.Hour)
	assert.Equal(t, 2, cleaner.Cleanup(ctx))

	assert.Equal(t, int64(0), client.Exists(ctx, "idempotency:stale", "idempotency:far").Val())
	assert.Equal(t, int64(2), client.Exists(ctx, "idempotency:fresh", "session:keep").Val())
}

func TestGenerateKeyAndFingerprint(t *testing.T) {
	assert.Equal(t, GenerateKey(1, "POST", "/rewards/claim", "abc"), GenerateKey(1, "POST", "/rewards/claim", "abc"))
	assert.NotEqual(t, GenerateKey(1, "abc"), GenerateKey(2, "abc"))
	assert.NotEqual(t,
		Fingerprint("POST", "/rewards/claim", []byte(`{"type":"gift"}`)),
		Fingerprint("POST", "/rewards/claim", []byte(`{"type":"video"}`)),
	)
}
