package user

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/session"
	"github.com/Proton-105/coinwatch/internal/testutil"
	"github.com/Proton-105/coinwatch/internal/usercache"
	"github.com/Proton-105/coinwatch/pkg/config"
)

const adminName = "Zala kb 101"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc      *Service
	store    *testutil.MemoryStore
	sessions *session.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := testutil.NewMemoryStore()
	sessions := session.NewStore(client, time.Hour, testLogger())
	cfg := config.AuthConfig{AdminName: adminName, BcryptCost: bcrypt.MinCost}

	return fixture{
		svc:      NewService(store, sessions, usercache.NewCache(client, time.Minute), cfg, testLogger()),
		store:    store,
		sessions: sessions,
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperrors.As(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func TestService_Signup(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantMsg string
	}{
		{name: "short name", creds: Credentials{Name: "al", Password: "secret1"}, wantMsg: "Name must be at least 3 characters."},
		{name: "short password", creds: Credentials{Name: "alice", Password: "12345"}, wantMsg: "Password must be at least 6 characters."},
		{name: "reserved name", creds: Credentials{Name: "zala KB 101", Password: "secret1"}, wantMsg: msgNameReserved},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Signup(context.Background(), tc.creds)
			assertCode(t, err, apperrors.CodeValidation)
			assert.Equal(t, tc.wantMsg, err.Error())
		})
	}

	t.Run("creates user and session", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()

		login, err := f.svc.Signup(ctx, Credentials{Name: " alice ", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, "alice", login.User.Name)
		assert.Zero(t, login.User.Coins)
		assert.False(t, login.User.IsAdmin)
		assert.NotEqual(t, "secret1", login.User.PasswordHash)

		id, err := f.svc.Authenticate(ctx, login.Session.Token)
		require.NoError(t, err)
		assert.Equal(t, domain.Identity{UserID: login.User.ID, Name: "alice"}, id)

		_, err = f.svc.Signup(ctx, Credentials{Name: "alice", Password: "another"})
		assertCode(t, err, apperrors.CodeValidation)
		assert.Equal(t, msgNameTaken, err.Error())
	})
}

func TestService_LoginLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, Credentials{Name: "bob", Password: "hunter22"})
	require.NoError(t, err)

	for _, creds := range []Credentials{
		{Name: "bob", Password: "wrong-pass"},
		{Name: "nobody", Password: "hunter22"},
		{Name: "", Password: ""},
	} {
		_, err := f.svc.Login(ctx, creds)
		assertCode(t, err, apperrors.CodeValidation)
		assert.Equal(t, msgBadCredentials, err.Error())
	}

	login, err := f.svc.Login(ctx, Credentials{Name: "bob", Password: "hunter22"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, login.Session.Token))
	id, err := f.svc.Authenticate(ctx, login.Session.Token)
	require.NoError(t, err)
	assert.False(t, id.Authenticated())
}

func TestService_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Signup(ctx, Credentials{Name: "carol", Password: "password1"})
	require.NoError(t, err)
	other, err := f.svc.Login(ctx, Credentials{Name: "carol", Password: "password1"})
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, Credentials{Name: "dave", Password: "password1"})
	require.NoError(t, err)

	id := domain.IdentityOf(first.User)

	_, err = f.svc.UpdateProfile(ctx, domain.Identity{}, ProfileUpdate{Name: "x"})
	assertCode(t, err, apperrors.CodeUnauthorized)

	_, err = f.svc.UpdateProfile(ctx, id, ProfileUpdate{Name: "carol2", CurrentPassword: "nope"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UpdateProfile(ctx, id, ProfileUpdate{Name: "dave", CurrentPassword: "password1"})
	assertCode(t, err, apperrors.CodeValidation)
	assert.Equal(t, msgNameTaken, err.Error())

	_, err = f.svc.UpdateProfile(ctx, id, ProfileUpdate{Name: adminName, CurrentPassword: "password1"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UpdateProfile(ctx, id, ProfileUpdate{Name: "carol", CurrentPassword: "password1", NewPassword: "123"})
	assertCode(t, err, apperrors.CodeValidation)

	updated, err := f.svc.UpdateProfile(ctx, id, ProfileUpdate{
		Name:            "caroline",
		CurrentPassword: "password1",
		NewPassword:     "password2",
	})
	require.NoError(t, err)
	assert.Equal(t, "caroline", updated.User.Name)

	for _, token := range []string{first.Session.Token, other.Session.Token} {
		stale, err := f.svc.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.False(t, stale.Authenticated())
	}

	fresh, err := f.svc.Authenticate(ctx, updated.Session.Token)
	require.NoError(t, err)
	assert.Equal(t, "caroline", fresh.Name)

	_, err = f.svc.Login(ctx, Credentials{Name: "caroline", Password: "password2"})
	require.NoError(t, err)
}

func TestService_AdminNameCannotBeChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	admin, err := f.svc.GrantAdmin(ctx, adminName, "adminpass")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	_, err = f.svc.UpdateProfile(ctx, domain.IdentityOf(admin), ProfileUpdate{Name: "someone", CurrentPassword: "adminpass"})
	assertCode(t, err, apperrors.CodeForbidden)

	login, err := f.svc.UpdateProfile(ctx, domain.IdentityOf(admin), ProfileUpdate{
		Name:            adminName,
		CurrentPassword: "adminpass",
		NewPassword:     "adminpass2",
	})
	require.NoError(t, err)
	assert.True(t, login.User.IsAdmin)
}

func TestService_GrantAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantAdmin(ctx, "ghost", "")
	assertCode(t, err, apperrors.CodeNotFound)

	login, err := f.svc.Signup(ctx, Credentials{Name: "erin", Password: "password1"})
	require.NoError(t, err)

	id, err := f.svc.Authenticate(ctx, login.Session.Token)
	require.NoError(t, err)
	assert.False(t, id.IsAdmin)

	_, err = f.svc.GrantAdmin(ctx, "erin", "")
	require.NoError(t, err)

	id, err = f.svc.Authenticate(ctx, login.Session.Token)
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	users, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	for _, name := range []string{"erin", "frank"} {
		_, err := f.svc.Signup(ctx, Credentials{Name: name, Password: "password1"})
		require.NoError(t, err)
	}
	_, err = f.svc.GrantAdmin(ctx, "frank", "")
	require.NoError(t, err)

	users, err = f.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "erin", users[0].Name)
	assert.False(t, users[0].IsAdmin)
	assert.Equal(t, "frank", users[1].Name)
	assert.True(t, users[1].IsAdmin)
}

func TestService_LoginTelegram(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, Credentials{Name: "frank", Password: "password1"})
	require.NoError(t, err)

	first, err := f.svc.LoginTelegram(ctx, telebot.User{ID: 1001, Username: "frank"})
	require.NoError(t, err)
	assert.Contains(t, first.User.Name, "frank_")
	assert.Zero(t, first.User.Coins)
	require.NotNil(t, first.User.TelegramID)
	assert.Equal(t, int64(1001), *first.User.TelegramID)

	again, err := f.svc.LoginTelegram(ctx, telebot.User{ID: 1001, Username: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, again.User.ID)

	named, err := f.svc.LoginTelegram(ctx, telebot.User{ID: 1002, FirstName: "Grace", LastName: "Hopper"})
	require.NoError(t, err)
	assert.Equal(t, "Grace Hopper", named.User.Name)

	_, err = f.svc.LoginTelegram(ctx, telebot.User{})
	assertCode(t, err, apperrors.CodeValidation)
}
