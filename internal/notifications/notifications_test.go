package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

type allowSet map[string]bool

func (a allowSet) AccessibleTradeIDsForUser(string, time.Time) (map[string]bool, error) {
	return a, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)
	return NewService(NewDatabase(db))
}

func activeEvent(tradeID string, action types.TradeAction, at time.Time) types.TradeEvent {
	return types.TradeEvent{
		TradeID: tradeID,
		Action:  action,
		Card: types.TradeCard{
			TradeID:    tradeID,
			Instrument: "NSE:RELIANCE",
			Kind:       types.TradeKindIntraday,
			Status:     types.TradeStatusActive,
		},
		InstrumentID: "INS_1",
		OccurredAt:   at,
	}
}

func TestRecordCreatesOneRowPerRecipient(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	created, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1", "user-2"})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	for _, userID := range []string{"user-1", "user-2"} {
		n := created[userID]
		assert.Equal(t, types.NotificationTrade, n.Type)
		assert.Contains(t, n.ShortMessage, "RELIANCE")
		assert.Equal(t, types.TradeStatusActive, n.TradeStatus)
		assert.True(t, n.IsRedirectable)
		assert.False(t, n.IsRead)
	}

	count, err := svc.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordSuppressesDuplicatesWithinWindow(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	first, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)

	// 30s later the same structural event reuses the existing row.
	svc.SetClock(func() time.Time { return now.Add(30 * time.Second) })
	second, err := svc.Record(activeEvent("TRD_1", types.ActionUpdated, now.Add(30*time.Second)), []string{"user-1"})
	require.NoError(t, err)
	assert.Equal(t, first["user-1"].NotificationID, second["user-1"].NotificationID)

	count, err := svc.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Past the window a new row is created.
	svc.SetClock(func() time.Time { return now.Add(2 * time.Minute) })
	third, err := svc.Record(activeEvent("TRD_1", types.ActionUpdated, now.Add(2*time.Minute)), []string{"user-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first["user-1"].NotificationID, third["user-1"].NotificationID)
}

func TestRecordDifferentTypeNotSuppressed(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	_, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)
	_, err = svc.Record(activeEvent("TRD_1", types.ActionPrice, now), []string{"user-1"})
	require.NoError(t, err)

	count, err := svc.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCompletionVoidsRedirect(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	created, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)
	originalID := created["user-1"].NotificationID

	later := now.Add(5 * time.Minute)
	svc.SetClock(func() time.Time { return later })
	completed := activeEvent("TRD_1", types.ActionCompleted, later)
	completed.Card.Status = types.TradeStatusCompleted
	result, err := svc.Record(completed, []string{"user-1"})
	require.NoError(t, err)
	assert.NotEqual(t, originalID, result["user-1"].NotificationID)
	assert.Equal(t, types.TradeStatusCompleted, result["user-1"].TradeStatus)

	original, err := svc.Store().Get("user-1", originalID)
	require.NoError(t, err)
	require.NotNil(t, original)
	assert.False(t, original.IsRedirectable)
	assert.True(t, result["user-1"].IsRedirectable)
}

func TestListFiltersByEntitlement(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	_, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)
	_, err = svc.Record(activeEvent("TRD_2", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)

	page, err := svc.List("user-1", ListFilter{}, 1, 20, allowSet{"TRD_1": true})
	require.NoError(t, err)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, "TRD_1", page.Notifications[0].TradeID)
	// Totals count only visible rows; suppressed rows stay in storage and
	// still count as unread.
	assert.Equal(t, int64(1), page.Pagination.TotalItems)
	assert.Equal(t, int64(2), page.UnreadCount)
}

func TestListPagesOverVisibleRowsOnly(t *testing.T) {
	svc := newTestService(t)
	base := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	// Interleave visible and suppressed rows so a naive page split would
	// come up short on every page.
	access := allowSet{}
	for i := 0; i < 6; i++ {
		at := base.Add(time.Duration(i) * 2 * time.Minute)
		svc.SetClock(func() time.Time { return at })
		tradeID := "TRD_" + string(rune('A'+i))
		if i%2 == 0 {
			access[tradeID] = true
		}
		_, err := svc.Record(activeEvent(tradeID, types.ActionCreated, at), []string{"user-1"})
		require.NoError(t, err)
	}

	page, err := svc.List("user-1", ListFilter{}, 1, 2, access)
	require.NoError(t, err)
	require.Len(t, page.Notifications, 2)
	assert.Equal(t, int64(3), page.Pagination.TotalItems)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	assert.Equal(t, "TRD_E", page.Notifications[0].TradeID)
	assert.Equal(t, "TRD_C", page.Notifications[1].TradeID)

	last, err := svc.List("user-1", ListFilter{}, 2, 2, access)
	require.NoError(t, err)
	require.Len(t, last.Notifications, 1)
	assert.Equal(t, "TRD_A", last.Notifications[0].TradeID)
}

func TestListReadFilterAndPagination(t *testing.T) {
	svc := newTestService(t)
	base := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)

	access := allowSet{}
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 2 * time.Minute)
		svc.SetClock(func() time.Time { return at })
		tradeID := "TRD_" + string(rune('A'+i))
		access[tradeID] = true
		_, err := svc.Record(activeEvent(tradeID, types.ActionCreated, at), []string{"user-1"})
		require.NoError(t, err)
	}

	page, err := svc.List("user-1", ListFilter{}, 1, 2, access)
	require.NoError(t, err)
	assert.Len(t, page.Notifications, 2)
	assert.Equal(t, int64(5), page.Pagination.TotalItems)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	// Newest first.
	assert.Equal(t, "TRD_E", page.Notifications[0].TradeID)

	require.NoError(t, svc.MarkRead("user-1", page.Notifications[0].NotificationID))

	unread := false
	readPage, err := svc.List("user-1", ListFilter{IsRead: &unread}, 1, 20, access)
	require.NoError(t, err)
	assert.Len(t, readPage.Notifications, 4)
	assert.Equal(t, int64(4), readPage.UnreadCount)
}

func TestMarkReadIdempotentAndScoped(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	created, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)
	id := created["user-1"].NotificationID

	require.NoError(t, svc.MarkRead("user-1", id))
	require.NoError(t, svc.MarkRead("user-1", id))

	// Another user cannot mark it.
	err = svc.MarkRead("user-2", id)
	assert.ErrorIs(t, err, types.ErrNotFound)

	count, err := svc.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMarkAllRead(t *testing.T) {
	svc := newTestService(t)
	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	_, err := svc.Record(activeEvent("TRD_1", types.ActionCreated, now), []string{"user-1"})
	require.NoError(t, err)
	_, err = svc.Record(activeEvent("TRD_2", types.ActionPrice, now), []string{"user-1"})
	require.NoError(t, err)

	changed, err := svc.MarkAllRead("user-1", ListFilter{Type: types.NotificationPrice})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	changed, err = svc.MarkAllRead("user-1", ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	changed, err = svc.MarkAllRead("user-1", ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
}
