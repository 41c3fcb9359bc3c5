package push

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/types"

	busPkg "github.com/tradepulse/tradepulse-api/internal/bus"
)

const (
	readDeadline  = 90 * time.Second
	dedupEntries  = 256
	sendQueueSize = 256
)

// Client is one live push connection. The read pump owns the socket reads
// and client actions, the write pump owns all socket writes and the
// heartbeat, and the event pump relays bus events through the send queue.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	channel Channel
	userID  string

	mu    sync.Mutex
	sub   *types.Subscription // pinned at connect, replaced on refresh
	dedup *dedupCache         // reset on refresh, hence under mu

	send         chan Frame
	busSub       *busPkg.Subscription // this user's group
	broadcastSub *busPkg.Subscription // cross-cutting events, every connection

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, channel Channel, userID string, sub *types.Subscription) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		channel: channel,
		userID:  userID,
		sub:     sub,
		send:    make(chan Frame, sendQueueSize),
		dedup:   newDedupCache(dedupEntries, h.cfg.DedupWindow),
		done:    make(chan struct{}),
	}
}

func (c *Client) subscription() *types.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *Client) setSubscription(sub *types.Subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

func (c *Client) observeEvent(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dedup.Observe(key, c.hub.now())
}

func (c *Client) resetDedup() {
	c.mu.Lock()
	c.dedup = newDedupCache(dedupEntries, c.hub.cfg.DedupWindow)
	c.mu.Unlock()
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		if c.busSub != nil {
			c.hub.bus.Unsubscribe(c.busSub)
		}
		if c.broadcastSub != nil {
			c.hub.bus.Unsubscribe(c.broadcastSub)
		}
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// enqueue hands a frame to the write pump without ever blocking the caller.
func (c *Client) enqueue(frame Frame) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		log.Warn().
			Str("user_id", c.userID).
			Str("channel", string(c.channel)).
			Str("frame", frame.Type).
			Msg("Send queue full, dropping frame")
	}
}

func (c *Client) readPump() {
	defer c.close(websocket.CloseNormalClosure, "")

	_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("Push read ended")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid_message", "invalid JSON")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			heartbeat, err := newFrame(FrameHeartbeat, nil)
			if err != nil {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(heartbeat); err != nil {
				c.close(websocket.CloseAbnormalClosure, "heartbeat failed")
				return
			}
		}
	}
}

// eventPump relays the user's group and the broadcast group onto the
// socket. Every event is published to both, so the dedup cache collapses
// the pair; ineligible events are dropped by the entitlement check.
func (c *Client) eventPump() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.busSub.C():
			if !ok {
				c.close(websocket.CloseGoingAway, "event stream closed")
				return
			}
			c.handleEvent(event)
		case event, ok := <-c.broadcastSub.C():
			if !ok {
				c.close(websocket.CloseGoingAway, "event stream closed")
				return
			}
			c.handleEvent(event)
		}
	}
}

func (c *Client) handleEvent(event types.TradeEvent) {
	if c.channel == ChannelIndices && !event.Card.InstrumentKind.IsIndexOrCommodity() {
		return
	}

	sub := c.subscription()
	// On the notification channel, subscribed users take only their
	// personal copy, which carries the inbox row. The broadcast copy is
	// skipped before it can touch the dedup cache so the personal copy
	// still delivers; it matters only to unsubscribed connections, which
	// receive free calls through it.
	if c.channel == ChannelNotifications && event.Notification == nil && sub != nil {
		return
	}

	trade := tradeFromCard(event)
	admit, err := c.hub.resolver.AdmitsEvent(sub, &trade)
	if err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Str("trade_id", event.TradeID).
			Msg("Entitlement check failed during fan-out")
		return
	}
	if !admit {
		return
	}
	if c.observeEvent(event.DedupKey()) {
		return
	}

	if c.channel == ChannelNotifications && event.Notification != nil {
		if frame, err := newFrame(FrameNotification, event.Notification); err == nil {
			c.enqueue(frame)
		}
		return
	}

	card, err := c.instrumentCardFor(event)
	if err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Str("trade_id", event.TradeID).
			Msg("Failed to build instrument card")
		return
	}
	info, err := c.hub.resolver.CountsAndLimits(c.subscription())
	if err != nil {
		log.Error().Err(err).Str("user_id", c.userID).Msg("Failed to build subscription info")
		return
	}

	frameType := FrameTradeUpdate
	if event.Action == types.ActionCompleted {
		frameType = FrameTradeCompleted
	}
	if frame, err := newFrame(frameType, TradeUpdate{InstrumentCard: card, SubscriptionInfo: info}); err == nil {
		c.enqueue(frame)
	}
}

// instrumentCardFor rebuilds the full card of the event's instrument so
// both trade-kind slots reflect what this user may see.
func (c *Client) instrumentCardFor(event types.TradeEvent) (types.InstrumentCard, error) {
	decision, err := c.hub.resolver.AccessibleTradeIDs(c.subscription())
	if err != nil {
		return types.InstrumentCard{}, err
	}
	cards, err := c.hub.trades.BuildInstrumentCards(decision.AllIDs())
	if err != nil {
		return types.InstrumentCard{}, err
	}
	for _, card := range cards {
		if card.InstrumentID == event.InstrumentID {
			return card, nil
		}
	}

	// Trade admitted but outside the listing set (e.g. a free call for an
	// unsubscribed listing): render the card from the event snapshot.
	card := types.InstrumentCard{
		InstrumentID: event.InstrumentID,
		Instrument:   event.Card.Instrument,
		Kind:         event.Card.InstrumentKind,
	}
	snapshot := event.Card
	if snapshot.Kind == types.TradeKindIntraday {
		card.IntradayTrade = &snapshot
	} else {
		card.PositionalTrade = &snapshot
	}
	return card, nil
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Action {
	case ActionRefresh:
		c.handleRefresh()
	case ActionSubscriptionInfo:
		info, err := c.hub.resolver.CountsAndLimits(c.subscription())
		if err != nil {
			c.sendError("subscription_info_failed", "could not build subscription info")
			return
		}
		if frame, err := newFrame(FrameSubscriptionInfo, info); err == nil {
			c.enqueue(frame)
		}
	case ActionMarkRead:
		c.handleMarkRead(msg.NotificationID)
	case ActionPing:
		if frame, err := newFrame(FrameHeartbeat, nil); err == nil {
			c.enqueue(frame)
		}
	case ActionHeartbeatResponse:
		// Read deadline already reset by the read pump.
	default:
		c.sendError("unknown_action", "unknown action: "+msg.Action)
	}
}

// handleRefresh re-pins the subscription, resets the per-connection caches
// and replays the snapshot.
func (c *Client) handleRefresh() {
	sub, err := c.hub.subscriptions.ActiveSubscription(c.userID, c.hub.now())
	if err != nil {
		c.sendError("refresh_failed", "could not reload subscription")
		return
	}
	if sub == nil && c.channel != ChannelNotifications {
		c.close(CloseNoSubscription, "no active subscription")
		return
	}
	c.setSubscription(sub)
	c.resetDedup()

	frame, err := c.snapshotFrame()
	if err != nil {
		c.sendError("refresh_failed", "could not rebuild snapshot")
		return
	}
	c.enqueue(frame)
	if ack, err := newFrame(FrameSuccess, SuccessPayload{Event: "refreshed"}); err == nil {
		c.enqueue(ack)
	}
}

func (c *Client) handleMarkRead(notificationID string) {
	if c.channel != ChannelNotifications {
		c.sendError("unsupported_action", "mark_read is only valid on the notification channel")
		return
	}
	if notificationID == "" {
		c.sendError("invalid_message", "notification_id is required")
		return
	}
	if err := c.hub.notifications.MarkRead(c.userID, notificationID); err != nil {
		c.sendError("mark_read_failed", "could not mark notification read")
		return
	}
	if frame, err := newFrame(FrameSuccess, SuccessPayload{Event: "mark_read"}); err == nil {
		c.enqueue(frame)
	}
}

// snapshotFrame builds the channel's initial_data frame.
func (c *Client) snapshotFrame() (Frame, error) {
	if c.channel == ChannelNotifications {
		unread := false
		page, err := c.hub.notifications.List(c.userID, notifications.ListFilter{IsRead: &unread}, 1, 50, c.hub.access)
		if err != nil {
			return Frame{}, err
		}
		return newFrame(FrameInitialData, InitialNotifications{
			Notifications: page.Notifications,
			UnreadCount:   page.UnreadCount,
		})
	}

	decision, err := c.hub.resolver.AccessibleTradeIDs(c.subscription())
	if err != nil {
		return Frame{}, err
	}
	cards, err := c.hub.trades.BuildInstrumentCards(decision.AllIDs())
	if err != nil {
		return Frame{}, err
	}
	if c.channel == ChannelIndices {
		scoped := cards[:0]
		for _, card := range cards {
			if card.Kind.IsIndexOrCommodity() {
				scoped = append(scoped, card)
			}
		}
		cards = scoped
	}
	info, err := c.hub.resolver.CountsAndLimits(c.subscription())
	if err != nil {
		return Frame{}, err
	}
	if cards == nil {
		cards = []types.InstrumentCard{}
	}
	return newFrame(FrameInitialData, InitialData{
		InstrumentCards:  cards,
		SubscriptionInfo: info,
	})
}

func (c *Client) sendError(code, message string) {
	if frame, err := newFrame(FrameError, ErrorPayload{Code: code, Message: message}); err == nil {
		c.enqueue(frame)
	}
}

// tradeFromCard reconstructs the store shape the entitlement check needs
// from the event snapshot.
func tradeFromCard(event types.TradeEvent) types.Trade {
	trade := types.Trade{
		TradeID:      event.TradeID,
		InstrumentID: event.InstrumentID,
		Kind:         event.Card.Kind,
		Status:       event.Card.Status,
		PlanTier:     event.Card.PlanTier,
		RiskLevel:    event.Card.RiskLevel,
		FreeCall:     event.Card.FreeCall,
		CompletedAt:  event.Card.CompletedAt,
	}
	trade.CreatedAt = event.Card.CreatedAt
	return trade
}
