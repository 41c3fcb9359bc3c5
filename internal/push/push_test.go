package push

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradepulse/tradepulse-api/internal/auth"
	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/config"
	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/emitter"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

type testEnv struct {
	server *httptest.Server
	hub    *Hub
	auth   *auth.Service
	trades *trades.Service
	subs   *subscriptions.Service
	bus    *bus.Bus
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	now := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	authSvc := auth.NewService("push-test-secret")
	tradeSvc := trades.NewService(db)
	tradeSvc.SetClock(clock)
	subSvc := subscriptions.NewService(db)
	notifSvc := notifications.NewService(notifications.NewDatabase(db))
	notifSvc.SetClock(clock)
	resolver := entitlement.NewResolver(tradeSvc.Store())
	b := bus.New()

	em := emitter.New(b, notifSvc, subSvc, resolver)
	em.SetClock(clock)
	tradeSvc.RegisterObserver(em)

	cfg := config.PushConfig{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscriberBuffer:  256,
		DedupWindow:       5 * time.Second,
		MaxReconnects:     3,
		ReconnectBaseWait: 10 * time.Millisecond,
	}
	hub := NewHub(b, authSvc, subSvc, tradeSvc, notifSvc, resolver, cfg)
	hub.SetClock(clock)

	router := gin.New()
	router.GET("/ws/trades", hub.TradesHandler())
	router.GET("/ws/indices", hub.IndicesHandler())
	router.GET("/ws/notifications", hub.NotificationsHandler())

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Shutdown()
		server.Close()
	})

	require.NoError(t, tradeSvc.CreateInstrument(&types.Instrument{
		InstrumentID:  "INS_EQ",
		Exchange:      "NSE",
		TradingSymbol: "RELIANCE",
		Kind:          types.KindEquity,
	}))
	require.NoError(t, tradeSvc.CreateInstrument(&types.Instrument{
		InstrumentID:  "INS_IDX",
		Exchange:      "NSE",
		TradingSymbol: "NIFTY50",
		Kind:          types.KindIndex,
	}))

	return &testEnv{server: server, hub: hub, auth: authSvc, trades: tradeSvc, subs: subSvc, bus: b, now: now}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + path
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	resp, err := e.auth.IssueToken(userID, "subscriber")
	require.NoError(t, err)
	return resp.Token
}

func (e *testEnv) subscribe(t *testing.T, userID string, plan types.PlanTier) {
	t.Helper()
	_, err := e.subs.CompletePayment(userID, plan,
		e.now.Add(-24*time.Hour), e.now.Add(30*24*time.Hour), "PAY_"+userID)
	require.NoError(t, err)
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := e.wsURL(path)
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	err := conn.ReadJSON(&frame)
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, code, closeErr.Code)
}

func TestHandshakeRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/trades", "")
	expectClose(t, conn, CloseNoToken)
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/trades", "not-a-token")
	expectClose(t, conn, CloseInvalidToken)
}

func TestHandshakeRequiresSubscriptionOnTradesChannel(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	expectClose(t, conn, CloseNoSubscription)
}

func TestHandshakeDeliversSnapshotAndAck(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanPremium)

	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))

	initial := readFrame(t, conn)
	require.Equal(t, FrameInitialData, initial.Type)
	var snapshot InitialData
	require.NoError(t, json.Unmarshal(initial.Data, &snapshot))
	require.Len(t, snapshot.InstrumentCards, 1)
	assert.Equal(t, "INS_EQ", snapshot.InstrumentCards[0].InstrumentID)
	require.NotNil(t, snapshot.InstrumentCards[0].IntradayTrade)
	assert.Equal(t, types.TradeStatusActive, snapshot.InstrumentCards[0].IntradayTrade.Status)
	assert.Nil(t, snapshot.InstrumentCards[0].PositionalTrade)
	require.NotNil(t, snapshot.SubscriptionInfo)
	assert.Equal(t, types.PlanPremium, snapshot.SubscriptionInfo.Plan)

	ack := readFrame(t, conn)
	require.Equal(t, FrameSuccess, ack.Type)
	var payload SuccessPayload
	require.NoError(t, json.Unmarshal(ack.Data, &payload))
	assert.Equal(t, "connected", payload.Event)
}

func TestLiveTradeUpdateReachesEntitledUser(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanPremium)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn) // initial_data
	readFrame(t, conn) // success

	trade, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, FrameTradeUpdate, frame.Type)
	var update TradeUpdate
	require.NoError(t, json.Unmarshal(frame.Data, &update))
	assert.Equal(t, "INS_EQ", update.InstrumentCard.InstrumentID)
	require.NotNil(t, update.InstrumentCard.IntradayTrade)
	assert.Equal(t, trade.TradeID, update.InstrumentCard.IntradayTrade.TradeID)
	require.NotNil(t, update.SubscriptionInfo)
}

func TestCompletionArrivesAsTradeCompleted(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanSuperPremium)

	trade, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	_, err = env.trades.TransitionTrade(trade.TradeID, types.TradeStatusCompleted)
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, FrameTradeCompleted, frame.Type)
	var update TradeUpdate
	require.NoError(t, json.Unmarshal(frame.Data, &update))
	require.NotNil(t, update.InstrumentCard.IntradayTrade)
	assert.Equal(t, types.TradeStatusCompleted, update.InstrumentCard.IntradayTrade.Status)
}

func TestIndicesChannelScopesInstruments(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanSuperPremium)

	conn := env.dial(t, "/ws/indices", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	// Equity trade must not surface on the index/commodity channel.
	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	_, err = env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_IDX",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindPositional,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, FrameTradeUpdate, frame.Type)
	var update TradeUpdate
	require.NoError(t, json.Unmarshal(frame.Data, &update))
	assert.Equal(t, "INS_IDX", update.InstrumentCard.InstrumentID)
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanPremium)

	trade, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	event := types.TradeEvent{
		TradeID: trade.TradeID,
		Action:  types.ActionUpdated,
		Card: types.TradeCard{
			TradeID:        trade.TradeID,
			Instrument:     "NSE:RELIANCE",
			InstrumentKind: types.KindEquity,
			Kind:           types.TradeKindIntraday,
			Status:         types.TradeStatusActive,
			PlanTier:       types.PlanBasic,
			CreatedAt:      env.now,
		},
		InstrumentID: "INS_EQ",
		OccurredAt:   env.now,
	}
	env.bus.Publish(bus.UserGroup("user-1"), event)
	env.bus.Publish(bus.UserGroup("user-1"), event)

	first := readFrame(t, conn)
	require.Equal(t, FrameTradeUpdate, first.Type)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var frame Frame
	err = conn.ReadJSON(&frame)
	require.Error(t, err, "duplicate frame should have been dropped, got %+v", frame)
}

func TestSubscriptionInfoAction(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanBasic)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: ActionSubscriptionInfo}))

	frame := readFrame(t, conn)
	require.Equal(t, FrameSubscriptionInfo, frame.Type)
	var info types.SubscriptionInfo
	require.NoError(t, json.Unmarshal(frame.Data, &info))
	assert.Equal(t, types.PlanBasic, info.Plan)
	assert.Equal(t, 6, info.Limits.New)
}

func TestRefreshReplaysSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanPremium)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)
	readFrame(t, conn) // live update

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: ActionRefresh}))

	frame := readFrame(t, conn)
	require.Equal(t, FrameInitialData, frame.Type)
	var snapshot InitialData
	require.NoError(t, json.Unmarshal(frame.Data, &snapshot))
	require.Len(t, snapshot.InstrumentCards, 1)

	ack := readFrame(t, conn)
	require.Equal(t, FrameSuccess, ack.Type)
}

func TestNotificationChannelDeliversInboxRow(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanPremium)

	conn := env.dial(t, "/ws/notifications", env.token(t, "user-1"))

	initial := readFrame(t, conn)
	require.Equal(t, FrameInitialData, initial.Type)
	var inbox InitialNotifications
	require.NoError(t, json.Unmarshal(initial.Data, &inbox))
	assert.Empty(t, inbox.Notifications)
	readFrame(t, conn) // success

	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanBasic,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	require.Equal(t, FrameNotification, frame.Type)
	var row types.Notification
	require.NoError(t, json.Unmarshal(frame.Data, &row))
	assert.Contains(t, row.ShortMessage, "RELIANCE")
	assert.False(t, row.IsRead)

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Action:         ActionMarkRead,
		NotificationID: row.NotificationID,
	}))
	ack := readFrame(t, conn)
	require.Equal(t, FrameSuccess, ack.Type)
	var payload SuccessPayload
	require.NoError(t, json.Unmarshal(ack.Data, &payload))
	assert.Equal(t, "mark_read", payload.Event)
}

func TestUnsubscribedNotificationConnectionReceivesFreeCallsOnly(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t, "/ws/notifications", env.token(t, "drifter"))
	initial := readFrame(t, conn)
	require.Equal(t, FrameInitialData, initial.Type)
	readFrame(t, conn) // connected ack

	// A tiered trade never reaches a user without a subscription.
	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanSuperPremium,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	free, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindPositional,
		PlanTier:     types.PlanBasic,
		RiskLevel:    2,
		FreeCall:     true,
		Activate:     true,
	})
	require.NoError(t, err)

	// Only the free call comes through, as a trade frame since there is no
	// inbox row for an unsubscribed user.
	frame := readFrame(t, conn)
	require.Equal(t, FrameTradeUpdate, frame.Type)
	var update TradeUpdate
	require.NoError(t, json.Unmarshal(frame.Data, &update))
	require.NotNil(t, update.InstrumentCard.PositionalTrade)
	assert.Equal(t, free.TradeID, update.InstrumentCard.PositionalTrade.TradeID)
	assert.Nil(t, update.InstrumentCard.IntradayTrade)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var extra Frame
	assert.Error(t, conn.ReadJSON(&extra))
}

func TestBasicUserDoesNotReceiveHigherTierEvents(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t, "user-1", types.PlanBasic)

	conn := env.dial(t, "/ws/trades", env.token(t, "user-1"))
	readFrame(t, conn)
	readFrame(t, conn)

	_, err := env.trades.CreateTrade(trades.CreateTradeInput{
		InstrumentID: "INS_EQ",
		AnalystID:    "analyst-1",
		Kind:         types.TradeKindIntraday,
		PlanTier:     types.PlanSuperPremium,
		RiskLevel:    3,
		Activate:     true,
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var frame Frame
	err = conn.ReadJSON(&frame)
	require.Error(t, err, "tier-gated event should not have been delivered, got %+v", frame)
}

func TestDedupCacheWindowAndBound(t *testing.T) {
	now := time.Unix(1000, 0)
	cache := newDedupCache(3, 5*time.Second)

	assert.False(t, cache.Observe("a", now))
	assert.True(t, cache.Observe("a", now.Add(time.Second)))
	assert.False(t, cache.Observe("a", now.Add(6*time.Second)))

	now = now.Add(10 * time.Second)
	assert.False(t, cache.Observe("w", now))
	assert.False(t, cache.Observe("x", now))
	assert.False(t, cache.Observe("y", now))
	assert.False(t, cache.Observe("z", now)) // evicts w
	assert.False(t, cache.Observe("w", now))
}

func TestDedupCacheReadmissionKeepsLiveEntry(t *testing.T) {
	base := time.Unix(1000, 0)
	cache := newDedupCache(3, 5*time.Second)

	// A wall-clock regression lets "k" be re-admitted behind a still-live
	// entry, leaving a stale order record for its first observation.
	assert.False(t, cache.Observe("g", base.Add(10*time.Second)))
	assert.False(t, cache.Observe("k", base))
	assert.False(t, cache.Observe("k", base.Add(6*time.Second)))

	// Bound eviction walks over the stale "k" record without touching the
	// live one, so "k" still deduplicates afterwards.
	assert.False(t, cache.Observe("b", base.Add(6*time.Second)))
	assert.False(t, cache.Observe("c", base.Add(6*time.Second)))
	assert.True(t, cache.Observe("k", base.Add(7*time.Second)))
}
