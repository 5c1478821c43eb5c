package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newDispatcher(t *testing.T, channel *stubChannel, cfg NotificationConfig) (*NotificationService, *memNotifications, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(testEpoch)
	repo := newMemNotifications()
	svc := NewNotificationService(repo, channel, clk, cfg, nil, discardLogger())
	svc.Start(context.Background())
	t.Cleanup(svc.Close)
	return svc, repo, clk
}

func confirmation() domain.Notification {
	return domain.Notification{
		OrderID:   "o1",
		Type:      domain.NotificationOrderConfirmation,
		Recipient: "a@example.com",
		Subject:   "Order confirmation",
		Body:      "Thanks",
	}
}

func TestCalculateRetryDelay_Defaults(t *testing.T) {
	svc := NewNotificationService(newMemNotifications(), &stubChannel{}, clock.Fake(testEpoch),
		DefaultNotificationConfig(), nil, discardLogger())

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	var total time.Duration
	for i, d := range want {
		got := svc.CalculateRetryDelay(i + 1)
		assert.Equal(t, d, got, "attempt %d", i+1)
		total += got
	}
	assert.Equal(t, 7*time.Second, total)

	assert.True(t, svc.ShouldRetry(0))
	assert.True(t, svc.ShouldRetry(2))
	assert.False(t, svc.ShouldRetry(3))
	assert.False(t, svc.ShouldRetry(4))
}

func TestSend_ReturnsBeforeDelivery(t *testing.T) {
	channel := &stubChannel{}
	svc, repo, clk := newDispatcher(t, channel, DefaultNotificationConfig())

	outcome, err := svc.Send(context.Background(), confirmation())
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationPending, outcome.Status)
	assert.Equal(t, testEpoch.Add(time.Second), outcome.NextAttemptAt)
	assert.Equal(t, 0, channel.callCount())

	clk.Advance(time.Second)

	require.Eventually(t, func() bool { return repo.status(outcome.LogID) == domain.NotificationSent }, waitFor, tick)
	attempts, _ := repo.ListAttempts(context.Background(), outcome.LogID)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.NotificationSent, attempts[0].Status)
	assert.Equal(t, "msg-"+attempts[0].ID, attempts[0].ExternalID)
}

func TestSend_BackoffThenPermanentFailure(t *testing.T) {
	channel := &stubChannel{failures: -1}
	svc, repo, clk := newDispatcher(t, channel, DefaultNotificationConfig())

	outcome, err := svc.Send(context.Background(), confirmation())
	require.NoError(t, err)

	for i, step := range []time.Duration{time.Second, 2 * time.Second} {
		clk.Advance(step)
		want := i + 1
		require.Eventually(t, func() bool {
			return repo.attemptCount() == want && clk.PendingCount() == 1
		}, waitFor, tick, "attempt %d", want)
		assert.Equal(t, domain.NotificationPending, repo.status(outcome.LogID))
	}

	clk.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return repo.status(outcome.LogID) == domain.NotificationFailed }, waitFor, tick)

	attempts, _ := repo.ListAttempts(context.Background(), outcome.LogID)
	require.Len(t, attempts, 3)
	assert.Equal(t, testEpoch.Add(1*time.Second), attempts[0].ScheduledAt)
	assert.Equal(t, testEpoch.Add(3*time.Second), attempts[1].ScheduledAt)
	assert.Equal(t, testEpoch.Add(7*time.Second), attempts[2].ScheduledAt)
	assert.Equal(t, domain.NotificationFailed, attempts[2].Status)
	assert.Equal(t, 3, channel.callCount())
	assert.Equal(t, 0, clk.PendingCount(), "nothing scheduled after the last attempt")
}

func TestSend_TransientFailureRecovers(t *testing.T) {
	channel := &stubChannel{failures: 1}
	svc, repo, clk := newDispatcher(t, channel, DefaultNotificationConfig())

	outcome, err := svc.Send(context.Background(), confirmation())
	require.NoError(t, err)

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return repo.attemptCount() == 1 && clk.PendingCount() == 1 }, waitFor, tick)
	clk.Advance(2 * time.Second)
	require.Eventually(t, func() bool { return repo.status(outcome.LogID) == domain.NotificationSent }, waitFor, tick)

	log, _ := repo.GetLog(context.Background(), outcome.LogID)
	assert.Equal(t, 2, log.Attempts)
	assert.Empty(t, log.LastError)
}

func TestRecover_ReschedulesPendingLogs(t *testing.T) {
	channel := &stubChannel{}
	svc, repo, _ := newDispatcher(t, channel, DefaultNotificationConfig())
	ctx := context.Background()

	overdue := testEpoch.Add(-time.Minute)
	require.NoError(t, repo.CreateLog(ctx, domain.NotificationLog{
		ID: "log-1", OrderID: "o1", Type: domain.NotificationOrderShipped, Recipient: "a@example.com",
		Status: domain.NotificationPending, Attempts: 1, NextAttemptAt: &overdue,
	}))
	require.NoError(t, repo.CreateLog(ctx, domain.NotificationLog{
		ID: "log-2", OrderID: "o2", Type: domain.NotificationOrderShipped, Recipient: "b@example.com",
		Status: domain.NotificationPending, Attempts: 3,
	}))

	recovered, err := svc.Recover(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	require.Eventually(t, func() bool { return repo.status("log-1") == domain.NotificationSent }, waitFor, tick)
	attempts, _ := repo.ListAttempts(ctx, "log-1")
	require.Len(t, attempts, 1)
	assert.Equal(t, 2, attempts[0].AttemptNumber)

	assert.Equal(t, domain.NotificationFailed, repo.status("log-2"))
}

func TestSend_ValidationAndClosed(t *testing.T) {
	svc := NewNotificationService(newMemNotifications(), &stubChannel{}, clock.Fake(testEpoch),
		DefaultNotificationConfig(), nil, discardLogger())
	svc.Start(context.Background())

	n := confirmation()
	n.Recipient = ""
	_, err := svc.Send(context.Background(), n)
	assert.ErrorIs(t, err, domain.ErrValidation)

	svc.Close()
	_, err = svc.Send(context.Background(), confirmation())
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestAlertStreak_ResetsAtThreshold(t *testing.T) {
	cfg := DefaultNotificationConfig()
	cfg.MaxAttempts = 1
	cfg.AlertThreshold = 2
	cfg.Workers = 1
	channel := &stubChannel{failures: -1}
	svc, repo, clk := newDispatcher(t, channel, cfg)

	for i := 1; i <= 3; i++ {
		_, err := svc.Send(context.Background(), confirmation())
		require.NoError(t, err)
		clk.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool { return repo.attemptCount() == want }, waitFor, tick)
	}

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.streak == 1
	}, waitFor, tick)
}
