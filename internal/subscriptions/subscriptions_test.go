package subscriptions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return NewService(db)
}

func TestCompletePaymentActivatesSubscription(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	sub, err := svc.CompletePayment("user-1", types.PlanPremium, start, end, "PAY_1")
	require.NoError(t, err)
	assert.True(t, sub.Active)
	assert.Equal(t, types.PlanPremium, sub.Plan)

	active, err := svc.ActiveSubscription("user-1", start.Add(24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, sub.SubscriptionID, active.SubscriptionID)
}

func TestActiveSubscriptionNilWhenExpiredOrMissing(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	_, err := svc.CompletePayment("user-1", types.PlanBasic, start, end, "PAY_1")
	require.NoError(t, err)

	expired, err := svc.ActiveSubscription("user-1", end.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, expired)

	missing, err := svc.ActiveSubscription("user-2", start)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPaymentReferenceReplayIsConflict(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	_, err := svc.CompletePayment("user-1", types.PlanBasic, start, end, "PAY_1")
	require.NoError(t, err)

	_, err = svc.CompletePayment("user-1", types.PlanBasic, start, end, "PAY_1")
	assert.ErrorIs(t, err, types.ErrConflict)

	subs, err := svc.ActiveSubscribers(start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestNewSubscriptionDeactivatesOverlappingActive(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first, err := svc.CompletePayment("user-1", types.PlanBasic, start, start.AddDate(0, 1, 0), "PAY_1")
	require.NoError(t, err)

	upgraded, err := svc.CompletePayment("user-1", types.PlanPremium,
		start.Add(10*24*time.Hour), start.AddDate(0, 2, 0), "PAY_2")
	require.NoError(t, err)

	at := start.Add(15 * 24 * time.Hour)
	active, err := svc.ActiveSubscription("user-1", at)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, upgraded.SubscriptionID, active.SubscriptionID)
	assert.NotEqual(t, first.SubscriptionID, active.SubscriptionID)

	// One active row per user.
	subs, err := svc.ActiveSubscribers(at)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, types.PlanPremium, subs[0].Plan)
}

func TestSubscriptionValidateRejectsInvertedWindow(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.CompletePayment("user-1", types.PlanBasic, start, start.Add(-time.Hour), "PAY_1")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestCancelDeactivates(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	_, err := svc.CompletePayment("user-1", types.PlanBasic, start, end, "PAY_1")
	require.NoError(t, err)

	at := start.Add(5 * 24 * time.Hour)
	cancelled, err := svc.Cancel("user-1", at)
	require.NoError(t, err)
	assert.False(t, cancelled.Active)
	require.NotNil(t, cancelled.CancelledAt)

	active, err := svc.ActiveSubscription("user-1", at.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = svc.Cancel("user-1", at.Add(time.Hour))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeactivateExpiredSweepsOnlyLapsedWindows(t *testing.T) {
	svc := newTestService(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.CompletePayment("user-1", types.PlanBasic, start, start.AddDate(0, 1, 0), "PAY_1")
	require.NoError(t, err)
	_, err = svc.CompletePayment("user-2", types.PlanPremium, start, start.AddDate(0, 3, 0), "PAY_2")
	require.NoError(t, err)

	// Two months in, only the first subscription has lapsed.
	swept, err := svc.Store().DeactivateExpired(start.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	active, err := svc.ActiveSubscription("user-2", start.AddDate(0, 2, 0))
	require.NoError(t, err)
	require.NotNil(t, active)

	// A second sweep at the same instant finds nothing left to flip.
	swept, err = svc.Store().DeactivateExpired(start.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Zero(t, swept)
}
