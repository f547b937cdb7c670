package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/coinwatch/internal/domain"
	"github.com/Proton-105/coinwatch/internal/jobs"
	"github.com/Proton-105/coinwatch/internal/moderation"
	"github.com/Proton-105/coinwatch/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Enabled() bool {
	return m.Called().Bool(0)
}

func (m *mockSender) SendText(ctx context.Context, telegramID int64, text string) error {
	return m.Called(telegramID, text).Error(0)
}

func notifyTask(t *testing.T, d moderation.Decision) *asynq.Task {
	t.Helper()
	task, err := jobs.NewModerationNotifyTask(d)
	require.NoError(t, err)
	return task
}

func TestNotifyHandler(t *testing.T) {
	store := testutil.NewMemoryStore()
	tgID := int64(555)
	linked := store.AddUser(domain.User{Name: "linked", TelegramID: &tgID})
	plain := store.AddUser(domain.User{Name: "plain"})

	decision := moderation.Decision{
		VideoID:     3,
		URL:         "https://youtu.be/abc",
		Status:      domain.VideoApproved,
		ReviewedAt:  time.Now(),
		SubmittedBy: linked.ID,
	}

	t.Run("delivers to linked account", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Enabled").Return(true)
		sender.On("SendText", tgID, DecisionText(decision)).Return(nil).Once()

		h := NewNotifyHandler(store, sender, testLogger())
		require.NoError(t, h.ProcessTask(context.Background(), notifyTask(t, decision)))
		sender.AssertExpectations(t)
	})

	t.Run("skips accounts without telegram", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Enabled").Return(true)

		d := decision
		d.SubmittedBy = plain.ID
		h := NewNotifyHandler(store, sender, testLogger())
		require.NoError(t, h.ProcessTask(context.Background(), notifyTask(t, d)))
		sender.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything)
	})

	t.Run("send failure is retried", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Enabled").Return(true)
		sender.On("SendText", tgID, mock.Anything).Return(errors.New("telegram down"))

		h := NewNotifyHandler(store, sender, testLogger())
		err := h.ProcessTask(context.Background(), notifyTask(t, decision))
		require.Error(t, err)
		assert.False(t, errors.Is(err, asynq.SkipRetry))
	})

	t.Run("unknown submitter is not retried", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Enabled").Return(true)

		d := decision
		d.SubmittedBy = 999
		h := NewNotifyHandler(store, sender, testLogger())
		err := h.ProcessTask(context.Background(), notifyTask(t, d))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("disabled sender", func(t *testing.T) {
		sender := new(mockSender)
		sender.On("Enabled").Return(false)

		h := NewNotifyHandler(store, sender, testLogger())
		require.NoError(t, h.ProcessTask(context.Background(), notifyTask(t, decision)))
	})

	t.Run("bad payload", func(t *testing.T) {
		h := NewNotifyHandler(store, nil, testLogger())
		err := h.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeModerationNotify, []byte("{")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestDecisionText(t *testing.T) {
	assert.Contains(t, DecisionText(moderation.Decision{URL: "u", Status: domain.VideoApproved}), "approved")
	assert.Contains(t, DecisionText(moderation.Decision{URL: "u", Status: domain.VideoRejected}), "rejected")
}

type countingCollector struct{ calls int }

func (c *countingCollector) Collect(context.Context) { c.calls++ }

func TestQueueStatsHandler(t *testing.T) {
	collector := &countingCollector{}
	h := NewQueueStatsHandler(collector, testLogger())

	require.NoError(t, h.ProcessTask(context.Background(), jobs.NewQueueStatsTask()))
	assert.Equal(t, 1, collector.calls)
}
