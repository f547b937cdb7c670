package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/idempotency"
	"github.com/Proton-105/coinwatch/internal/ledger"
	"github.com/Proton-105/coinwatch/internal/middleware"
	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/submission"
	"github.com/Proton-105/coinwatch/internal/telegram"
	"github.com/Proton-105/coinwatch/internal/testutil"
	"github.com/Proton-105/coinwatch/internal/user"
	"github.com/Proton-105/coinwatch/internal/usercache"
	"github.com/Proton-105/coinwatch/pkg/config"
)

const (
	adminName = "Zala kb 101"
	botToken  = "123456:test-token"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv   *httptest.Server
	store *testutil.MemoryStore
	users *user.Service
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := testLogger()
	store := testutil.NewMemoryStore()
	auth := config.AuthConfig{
		SessionTTL: time.Hour,
		CookieName: "coinwatch_session",
		AdminName:  adminName,
		BcryptCost: bcrypt.MinCost,
	}

	users := user.NewService(store, session.NewStore(client, auth.SessionTTL, log), usercache.NewCache(client, time.Minute), auth, log)
	rewards := ledger.DefaultRewards()

	s := NewServer(Services{
		Users:       users,
		Ledger:      ledger.NewService(store, rewards, log),
		Submissions: submission.NewService(store, rewards.SubmissionCost, log),
		Moderation:  moderation.NewService(store, store.Videos(), store, nil, log),
		Telegram:    telegram.NewValidator(botToken, time.Hour),
	}, Options{
		Auth:        auth,
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(client, log), time.Second, log),
	}, log)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return testEnv{srv: srv, store: store, users: users}
}

type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func (e testEnv) client(t *testing.T) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: e.srv.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any, headers ...string) (*http.Response, []byte) {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body middleware.ErrorBody
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Code
}

func (c *apiClient) signup(name, password string) domain.User {
	c.t.Helper()
	resp, data := c.do(http.MethodPost, "/signup", map[string]string{"name": name, "password": password})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, string(data))

	var body struct {
		Message string      `json:"message"`
		User    domain.User `json:"user"`
	}
	require.NoError(c.t, json.Unmarshal(data, &body))
	assert.Equal(c.t, "User created successfully", body.Message)
	return body.User
}

func TestServer_SessionFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, _ := c.do(http.MethodGet, "/user", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data := c.do(http.MethodPost, "/rewards/claim", map[string]string{"type": "gift"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, apperrors.CodeUnauthorized, errorCode(t, data))

	created := c.signup("alice", "secret1")
	assert.Zero(t, created.Coins)

	resp, data = c.do(http.MethodGet, "/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me domain.User
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "alice", me.Name)

	resp, _ = c.do(http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/user", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = c.do(http.MethodPost, "/login", map[string]string{"name": "alice", "password": "wrong1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, data))

	resp, _ = c.do(http.MethodPost, "/login", map[string]string{"name": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = c.do(http.MethodPost, "/profile/update", map[string]string{
		"name":            "alicia",
		"currentPassword": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodGet, "/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "alicia", me.Name)
}

func TestServer_ListUsers(t *testing.T) {
	env := newTestEnv(t)

	resp, data := env.client(t).do(http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(data))

	env.client(t).signup("alice", "secret1")
	env.client(t).signup("bob", "secret2")

	resp, data = env.client(t).do(http.MethodGet, "/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []domain.User
	require.NoError(t, json.Unmarshal(data, &users))
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].Name)
	assert.Equal(t, "bob", users[1].Name)
	assert.False(t, users[0].IsAdmin)
	assert.NotContains(t, string(data), "$2a$")
	assert.NotContains(t, string(data), "password")
}

func TestServer_ClaimsAndWatchData(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	c.signup("bob", "secret1")

	resp, data := c.do(http.MethodPost, "/rewards/claim", map[string]string{"type": "video", "entityId": "vid-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var claim ledger.ClaimResult
	require.NoError(t, json.Unmarshal(data, &claim))
	assert.Equal(t, int64(30), claim.Amount)
	assert.Equal(t, int64(30), claim.NewBalance)

	resp, data = c.do(http.MethodPost, "/rewards/claim", map[string]string{"type": "video", "entityId": "vid-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperrors.CodeAlreadyClaimed, errorCode(t, data))

	resp, data = c.do(http.MethodPost, "/rewards/claim", map[string]string{"type": "lottery"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, data))

	resp, data = c.do(http.MethodGet, "/watch-data?videoId=vid-1&channel=chan-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var summary ledger.WatchSummary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.True(t, summary.VideoClaimedToday)
	assert.Equal(t, int64(30), summary.VideoTotal)
	assert.False(t, summary.ChannelSubscribed)
	assert.True(t, summary.GiftAvailable)

	resp, data = c.do(http.MethodGet, "/watch-data", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, data))
}

func TestServer_IdempotentClaim(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	u := c.signup("carol", "secret1")

	body := map[string]string{"type": "gift"}
	first, firstData := c.do(http.MethodPost, "/rewards/claim", body, middleware.IdempotencyHeader, "gift-1")
	require.Equal(t, http.StatusOK, first.StatusCode, string(firstData))

	replay, replayData := c.do(http.MethodPost, "/rewards/claim", body, middleware.IdempotencyHeader, "gift-1")
	require.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get(middleware.ReplayedHeader))
	assert.JSONEq(t, string(firstData), string(replayData))
	assert.Equal(t, int64(10), env.store.Balance(u.ID))

	again, data := c.do(http.MethodPost, "/rewards/claim", body)
	assert.Equal(t, http.StatusConflict, again.StatusCode)
	assert.Equal(t, apperrors.CodeAlreadyClaimed, errorCode(t, data))
}

func TestServer_SubmissionAndModeration(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()

	c := env.client(t)
	u := c.signup("dave", "secret1")

	resp, data := c.do(http.MethodPost, "/videos/submit", map[string]string{"videoUrl": "https://youtu.be/dQw4w9WgXcQ"})
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, apperrors.CodeInsufficientFunds, errorCode(t, data))

	resp, data = c.do(http.MethodGet, "/admin/data", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, apperrors.CodeForbidden, errorCode(t, data))

	_, err := env.users.GrantAdmin(ctx, adminName, "adminpass")
	require.NoError(t, err)
	admin := env.client(t)
	resp, _ = admin.do(http.MethodPost, "/login", map[string]string{"name": adminName, "password": "adminpass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = admin.do(http.MethodPost, "/admin/adjust-coins", map[string]any{"userId": u.ID, "delta": 1300, "reason": "promo"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, int64(1300), env.store.Balance(u.ID))

	resp, data = c.do(http.MethodPost, "/videos/submit", map[string]string{"videoUrl": "https://youtu.be/dQw4w9WgXcQ"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var submitted submission.Result
	require.NoError(t, json.Unmarshal(data, &submitted))
	assert.Equal(t, int64(50), submitted.NewBalance)
	assert.Equal(t, domain.VideoPending, submitted.Video.Status)

	resp, data = admin.do(http.MethodGet, "/admin/data?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var queue moderation.Queue
	require.NoError(t, json.Unmarshal(data, &queue))
	require.Len(t, queue.Videos, 1)

	resp, data = admin.do(http.MethodGet, "/admin/data?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, data))

	update := map[string]any{"videoId": submitted.Video.ID, "status": "approved"}
	resp, data = admin.do(http.MethodPost, "/admin/update-video-status", update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = admin.do(http.MethodPost, "/admin/update-video-status", map[string]any{"videoId": submitted.Video.ID, "status": "rejected"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, apperrors.CodeInvalidTransition, errorCode(t, data))
}

func TestServer_TelegramLogin(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)
	validator := telegram.NewValidator(botToken, time.Hour)

	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	values.Set("query_id", "AAH")
	values.Set("user", `{"id":4242,"first_name":"Ada","username":"ada"}`)
	values.Set("hash", validator.Sign(values))

	resp, data := c.do(http.MethodPost, "/auth/telegram", map[string]string{"initData": values.Encode()})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = c.do(http.MethodGet, "/user", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me domain.User
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, "ada", me.Name)

	values.Set("hash", "deadbeef")
	resp, data = c.do(http.MethodPost, "/auth/telegram", map[string]string{"initData": values.Encode()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, apperrors.CodeValidation, errorCode(t, data))
}

func TestServer_HealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	resp, _ := c.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodDelete, "/signup", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
