package submission

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubmitChargesFeeOnce(t *testing.T) {
	store := testutil.NewMemoryStore()
	user := store.AddUser(domain.User{Name: "alice", Coins: 1250})
	svc := NewService(store, 1250, testLogger())
	id := domain.IdentityOf(&user)
	ctx := context.Background()

	res, err := svc.Submit(ctx, id, "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewBalance)
	assert.Equal(t, domain.VideoPending, res.Video.Status)
	assert.Equal(t, int64(1250), res.Video.Cost)
	assert.Equal(t, user.ID, res.Video.SubmittedBy)

	_, err = svc.Submit(ctx, id, "https://www.youtube.com/watch?v=another")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInsufficientFunds))
	assert.Equal(t, int64(0), store.Balance(user.ID))

	videos, err := store.Videos().List(ctx, domain.VideoPending)
	require.NoError(t, err)
	assert.Len(t, videos, 1)
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	store := testutil.NewMemoryStore()
	user := store.AddUser(domain.User{Name: "bob", Coins: 5000})
	svc := NewService(store, 1250, testLogger())

	testCases := []struct {
		name string
		id   domain.Identity
		url  string
		code string
	}{
		{"anonymous", domain.Identity{}, "https://example.com/v", apperrors.CodeUnauthorized},
		{"empty url", domain.IdentityOf(&user), "  ", apperrors.CodeValidation},
		{"not a url", domain.IdentityOf(&user), "watch this", apperrors.CodeValidation},
		{"wrong scheme", domain.IdentityOf(&user), "ftp://example.com/v.mp4", apperrors.CodeValidation},
		{"unknown user", domain.Identity{UserID: 404}, "https://example.com/v", apperrors.CodeNotFound},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.id, tc.url)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	assert.Equal(t, int64(5000), store.Balance(user.ID))
}

func TestSubmitAllowsSameURLTwice(t *testing.T) {
	store := testutil.NewMemoryStore()
	user := store.AddUser(domain.User{Name: "carol", Coins: 2500})
	svc := NewService(store, 1250, testLogger())
	id := domain.IdentityOf(&user)

	for i := 0; i < 2; i++ {
		_, err := svc.Submit(context.Background(), id, "https://youtu.be/abc")
		require.NoError(t, err)
	}
	assert.Zero(t, store.Balance(user.ID))
}
