package emitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

type fixture struct {
	emitter *Emitter
	bus     *bus.Bus
	trades  *trades.Service
	subs    *subscriptions.Service
	notifs  *notifications.Service
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tradeSvc := trades.NewService(db)
	tradeSvc.SetClock(clock)
	subSvc := subscriptions.NewService(db)
	notifSvc := notifications.NewService(notifications.NewDatabase(db))
	notifSvc.SetClock(clock)
	resolver := entitlement.NewResolver(tradeSvc.Store())
	b := bus.New()

	em := New(b, notifSvc, subSvc, resolver)
	em.SetClock(clock)
	tradeSvc.RegisterObserver(em)

	require.NoError(t, tradeSvc.CreateInstrument(&types.Instrument{
		InstrumentID:  "INS_1",
		Exchange:      "NSE",
		TradingSymbol: "RELIANCE",
		Kind:          types.KindEquity,
	}))

	return &fixture{emitter: em, bus: b, trades: tradeSvc, subs: subSvc, notifs: notifSvc, now: now}
}

func (f *fixture) subscribeUser(t *testing.T, userID string, plan types.PlanTier) {
	t.Helper()
	_, err := f.subs.CompletePayment(userID, plan,
		f.now.Add(-24*time.Hour), f.now.Add(30*24*time.Hour), "PAY_"+userID)
	require.NoError(t, err)
}

func receiveEvent(t *testing.T, sub *bus.Subscription) types.TradeEvent {
	t.Helper()
	select {
	case event, ok := <-sub.C():
		require.True(t, ok, "subscription closed before event arrived")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return types.TradeEvent{}
	}
}

func TestActiveTradeCreateFansOut(t *testing.T) {
	f := newFixture(t)
	f.subscribeUser(t, "user-1", types.PlanPremium)

	broadcast := f.bus.Subscribe(bus.BroadcastGroup)
	personal := f.bus.Subscribe(bus.UserGroup("user-1"))
	defer f.bus.Unsubscribe(broadcast)
	defer f.bus.Unsubscribe(personal)

	trade, err := f.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_1",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	event := receiveEvent(t, broadcast)
	assert.Equal(t, trade.TradeID, event.TradeID)
	assert.Equal(t, types.ActionCreated, event.Action)
	assert.Equal(t, types.TradeStatusActive, event.Card.Status)
	assert.Equal(t, "NSE:RELIANCE", event.Card.Instrument)
	assert.Nil(t, event.Notification)

	userEvent := receiveEvent(t, personal)
	assert.Equal(t, trade.TradeID, userEvent.TradeID)
	require.NotNil(t, userEvent.Notification)
	assert.Contains(t, userEvent.Notification.ShortMessage, "RELIANCE")

	count, err := f.notifs.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPendingTradeEmitsNothing(t *testing.T) {
	f := newFixture(t)
	f.subscribeUser(t, "user-1", types.PlanPremium)

	broadcast := f.bus.Subscribe(bus.BroadcastGroup)
	defer f.bus.Unsubscribe(broadcast)

	_, err := f.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_1",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
	})
	require.NoError(t, err)

	select {
	case event := <-broadcast.C():
		t.Fatalf("unexpected event for pending trade: %+v", event)
	case <-time.After(100 * time.Millisecond):
	}

	count, err := f.notifs.UnreadCount("user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTierFiltersRecipients(t *testing.T) {
	f := newFixture(t)
	f.subscribeUser(t, "basic-user", types.PlanBasic)
	f.subscribeUser(t, "premium-user", types.PlanPremium)

	trade, err := f.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_1",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanPremium,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)
	_ = trade

	basicCount, err := f.notifs.UnreadCount("basic-user")
	require.NoError(t, err)
	assert.Equal(t, int64(0), basicCount)

	premiumCount, err := f.notifs.UnreadCount("premium-user")
	require.NoError(t, err)
	assert.Equal(t, int64(1), premiumCount)
}

func TestFreeCallReachesEveryPlan(t *testing.T) {
	f := newFixture(t)
	f.subscribeUser(t, "basic-user", types.PlanBasic)

	_, err := f.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_1",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanSuperPremium,
		RiskLevel:    3,
		FreeCall:     true,
		Activate:     true,
	})
	require.NoError(t, err)

	count, err := f.notifs.UnreadCount("basic-user")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCompletionNotifiesUnlimitedAndVoidsRedirect(t *testing.T) {
	f := newFixture(t)
	f.subscribeUser(t, "super-user", types.PlanSuperPremium)

	trade, err := f.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_1",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	personal := f.bus.Subscribe(bus.UserGroup("super-user"))
	defer f.bus.Unsubscribe(personal)

	_, err = f.trades.TransitionTrade(trade.TradeID, types.TradeStatusCompleted)
	require.NoError(t, err)

	event := receiveEvent(t, personal)
	assert.Equal(t, types.ActionCompleted, event.Action)
	require.NotNil(t, event.Notification)
	assert.Equal(t, types.TradeStatusCompleted, event.Notification.TradeStatus)

	rows, total, err := f.notifs.Store().List("super-user", notifications.ListFilter{}, 1, 20)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	for _, n := range rows {
		if n.TradeStatus == types.TradeStatusActive {
			assert.False(t, n.IsRedirectable)
		} else {
			assert.True(t, n.IsRedirectable)
		}
	}
}
