package moderation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/coinwatch/internal/domain"
	apperrors "github.com/Proton-105/coinwatch/internal/errors"
	"github.com/Proton-105/coinwatch/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyDecision(ctx context.Context, decision Decision) error {
	args := m.Called(ctx, decision)
	return args.Error(0)
}

func TestIsTransitionAllowed(t *testing.T) {
	testCases := []struct {
		name     string
		from     domain.VideoStatus
		to       domain.VideoStatus
		expected bool
	}{
		{name: "pending to approved", from: domain.VideoPending, to: domain.VideoApproved, expected: true},
		{name: "pending to rejected", from: domain.VideoPending, to: domain.VideoRejected, expected: true},
		{name: "pending to pending invalid", from: domain.VideoPending, to: domain.VideoPending, expected: false},
		{name: "approved to rejected invalid", from: domain.VideoApproved, to: domain.VideoRejected, expected: false},
		{name: "rejected to approved invalid", from: domain.VideoRejected, to: domain.VideoApproved, expected: false},
		{name: "approved to pending invalid", from: domain.VideoApproved, to: domain.VideoPending, expected: false},
		{name: "unknown status invalid", from: domain.VideoStatus("draft"), to: domain.VideoApproved, expected: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if actual := IsTransitionAllowed(tc.from, tc.to); actual != tc.expected {
				t.Errorf("IsTransitionAllowed(%s -> %s) = %t, expected %t", tc.from, tc.to, actual, tc.expected)
			}
		})
	}
}

type fixture struct {
	svc      *Service
	store    *testutil.MemoryStore
	notifier *mockNotifier
	admin    domain.Identity
	author   domain.User
	video    domain.Video
}

func setup(t *testing.T) fixture {
	t.Helper()

	store := testutil.NewMemoryStore()
	notifier := &mockNotifier{}
	admin := store.AddUser(domain.User{Name: "root", IsAdmin: true})
	author := store.AddUser(domain.User{Name: "alice"})
	video := store.AddVideo(domain.Video{
		URL:         "https://youtu.be/abc",
		SubmittedBy: author.ID,
		SubmittedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Status:      domain.VideoPending,
		Cost:        1250,
	})

	svc := NewService(store, store.Videos(), store, notifier, testLogger())
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return fixture{
		svc:      svc,
		store:    store,
		notifier: notifier,
		admin:    domain.IdentityOf(&admin),
		author:   author,
		video:    video,
	}
}

func TestTransitionApproveThenReject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.notifier.On("NotifyDecision", mock.Anything, mock.MatchedBy(func(d Decision) bool {
		return d.VideoID == f.video.ID && d.Status == domain.VideoApproved && d.SubmittedBy == f.author.ID
	})).Return(nil).Once()

	updated, err := f.svc.Transition(ctx, f.admin, f.video.ID, domain.VideoApproved)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoApproved, updated.Status)
	require.NotNil(t, updated.ReviewedBy)
	assert.Equal(t, f.admin.UserID, *updated.ReviewedBy)

	_, err = f.svc.Transition(ctx, f.admin, f.video.ID, domain.VideoRejected)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidTransition))

	stored, err := f.store.Videos().FindByID(ctx, f.video.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoApproved, stored.Status)

	f.notifier.AssertExpectations(t)
}

func TestTransitionErrors(t *testing.T) {
	f := setup(t)
	author := domain.IdentityOf(&f.author)

	testCases := []struct {
		name    string
		id      domain.Identity
		videoID int64
		to      domain.VideoStatus
		code    string
	}{
		{"anonymous", domain.Identity{}, f.video.ID, domain.VideoApproved, apperrors.CodeUnauthorized},
		{"non admin", author, f.video.ID, domain.VideoApproved, apperrors.CodeForbidden},
		{"back to pending", f.admin, f.video.ID, domain.VideoPending, apperrors.CodeValidation},
		{"garbage status", f.admin, f.video.ID, domain.VideoStatus("deleted"), apperrors.CodeValidation},
		{"unknown video", f.admin, 9999, domain.VideoRejected, apperrors.CodeNotFound},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Transition(context.Background(), tc.id, tc.videoID, tc.to)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tc.code), "got %v", err)
		})
	}

	f.notifier.AssertNotCalled(t, "NotifyDecision", mock.Anything, mock.Anything)
}

func TestTransitionSurvivesNotifierFailure(t *testing.T) {
	f := setup(t)
	f.notifier.On("NotifyDecision", mock.Anything, mock.Anything).Return(errors.New("queue down")).Once()

	updated, err := f.svc.Transition(context.Background(), f.admin, f.video.ID, domain.VideoRejected)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoRejected, updated.Status)
	f.notifier.AssertExpectations(t)
}

func TestList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.notifier.On("NotifyDecision", mock.Anything, mock.Anything).Return(nil)

	second := f.store.AddVideo(domain.Video{
		URL:         "https://youtu.be/def",
		SubmittedBy: f.author.ID,
		SubmittedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Status:      domain.VideoPending,
		Cost:        1250,
	})
	_, err := f.svc.Transition(ctx, f.admin, f.video.ID, domain.VideoApproved)
	require.NoError(t, err)

	queue, err := f.svc.List(ctx, f.admin, "")
	require.NoError(t, err)
	require.Len(t, queue.Videos, 2)
	assert.Equal(t, second.ID, queue.Videos[0].ID)
	assert.Len(t, queue.Users, 2)

	pending, err := f.svc.List(ctx, f.admin, domain.VideoPending)
	require.NoError(t, err)
	require.Len(t, pending.Videos, 1)
	assert.Equal(t, second.ID, pending.Videos[0].ID)

	_, err = f.svc.List(ctx, domain.IdentityOf(&f.author), "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.List(ctx, f.admin, "archived")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}
