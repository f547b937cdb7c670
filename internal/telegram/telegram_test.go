package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/coinwatch/internal/errors"
)

const testToken = "123456:ABC-DEF"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedInitData(v *Validator, authDate time.Time, user string) string {
	values := url.Values{}
	values.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	if user != "" {
		values.Set("user", user)
	}
	values.Set("hash", v.Sign(values))
	return values.Encode()
}

func TestValidator_Validate(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := NewValidator(testToken, time.Hour)
	v.now = func() time.Time { return now }

	userJSON := `{"id":279058397,"first_name":"Vlad","last_name":"K","username":"vdkfrost"}`

	tests := []struct {
		name    string
		raw     func() string
		wantErr error
	}{
		{
			name: "valid",
			raw:  func() string { return signedInitData(v, now.Add(-time.Minute), userJSON) },
		},
		{
			name:    "missing hash",
			raw:     func() string { return "auth_date=1&user=%7B%7D" },
			wantErr: ErrMissingHash,
		},
		{
			name: "tampered user",
			raw: func() string {
				values, _ := url.ParseQuery(signedInitData(v, now, userJSON))
				values.Set("user", `{"id":1,"first_name":"Mallory"}`)
				return values.Encode()
			},
			wantErr: ErrInvalidHash,
		},
		{
			name: "other bot token",
			raw: func() string {
				return signedInitData(NewValidator("999:other", 0), now, userJSON)
			},
			wantErr: ErrInvalidHash,
		},
		{
			name:    "expired",
			raw:     func() string { return signedInitData(v, now.Add(-2*time.Hour), userJSON) },
			wantErr: ErrExpired,
		},
		{
			name:    "no user",
			raw:     func() string { return signedInitData(v, now, "") },
			wantErr: ErrMissingUser,
		},
		{
			name:    "user without id",
			raw:     func() string { return signedInitData(v, now, `{"first_name":"Ghost"}`) },
			wantErr: ErrMissingUser,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			data, err := v.Validate(tc.raw())
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(279058397), data.User.ID)
			assert.Equal(t, "vdkfrost", data.User.Username)
			assert.Equal(t, "AAHdF6IQAAAAAN0XohDhrOrc", data.QueryID)
			assert.Equal(t, now.Add(-time.Minute).Unix(), data.AuthDate.Unix())
		})
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "vdkfrost", DisplayName(telebot.User{Username: "vdkfrost", FirstName: "Vlad"}))
	assert.Equal(t, "Vlad K", DisplayName(telebot.User{FirstName: "Vlad", LastName: "K"}))
	assert.Equal(t, "Vlad", DisplayName(telebot.User{FirstName: "Vlad"}))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error) {
	args := m.Called(to.Recipient(), what)
	msg, _ := args.Get(0).(*telebot.Message)
	return msg, args.Error(1)
}

func TestNotifier_SendText(t *testing.T) {
	sender := new(mockSender)
	sender.On("Send", "42", "approved").Return(&telebot.Message{ID: 1}, nil).Once()
	sender.On("Send", "43", "approved").Return(nil, errors.New("chat not found")).Once()

	n := NewNotifier(sender, testLogger())
	ctx := context.Background()

	require.NoError(t, n.SendText(ctx, 42, "approved"))

	err := n.SendText(ctx, 43, "approved")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeExternalAPI))

	sender.AssertExpectations(t)
	assert.NoError(t, n.HealthCheck(ctx))
}

func TestNotifier_Disabled(t *testing.T) {
	n := NewNotifier(nil, testLogger())
	ctx := context.Background()

	assert.False(t, n.Enabled())
	assert.ErrorIs(t, n.SendText(ctx, 1, "hi"), ErrDisabled)
	assert.ErrorIs(t, n.HealthCheck(ctx), ErrDisabled)

	_, err := NewBot("")
	assert.ErrorIs(t, err, ErrDisabled)
}
