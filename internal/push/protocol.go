// Package push is the persistent-connection server. Each client holds one
// websocket per channel; the server authenticates it, pins the user's
// subscription, replays an initial snapshot and then relays bus events the
// pinned subscription admits.
package push

import (
	"encoding/json"
	"time"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// Closure codes sent in the websocket close frame when a connection cannot
// be served.
const (
	CloseNoToken            = 4001
	CloseInvalidToken       = 4002
	CloseAuthFailed         = 4003
	CloseUnexpectedAuth     = 4004
	CloseNoSubscription     = 4005
	CloseSetupFailure       = 4006
	CloseMaxRetriesExceeded = 4007
)

// Channel selects which event stream a connection carries.
type Channel string

const (
	ChannelTrades        Channel = "trades"
	ChannelIndices       Channel = "indices"
	ChannelNotifications Channel = "notifications"
)

// Server-to-client frame types.
const (
	FrameInitialData      = "initial_data"
	FrameTradeUpdate      = "trade_update"
	FrameTradeCompleted   = "trade_completed"
	FrameNotification     = "notification"
	FrameHeartbeat        = "heartbeat"
	FrameSuccess          = "success"
	FrameError            = "error"
	FrameSubscriptionInfo = "subscription_info"
)

// Client-to-server actions.
const (
	ActionRefresh           = "refresh"
	ActionSubscriptionInfo  = "subscription_info"
	ActionMarkRead          = "mark_read"
	ActionPing              = "ping"
	ActionHeartbeatResponse = "heartbeat_response"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func newFrame(frameType string, payload interface{}) (Frame, error) {
	frame := Frame{Type: frameType, Timestamp: time.Now().Unix()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		frame.Data = data
	}
	return frame, nil
}

// InitialData is the snapshot payload on the trade channels.
type InitialData struct {
	InstrumentCards  []types.InstrumentCard  `json:"instrument_cards"`
	SubscriptionInfo *types.SubscriptionInfo `json:"subscription_info"`
}

// InitialNotifications is the snapshot payload on the notification channel.
type InitialNotifications struct {
	Notifications []types.Notification `json:"notifications"`
	UnreadCount   int64                `json:"unread_count"`
}

// TradeUpdate carries one refreshed instrument card.
type TradeUpdate struct {
	InstrumentCard   types.InstrumentCard    `json:"instrument_card"`
	SubscriptionInfo *types.SubscriptionInfo `json:"subscription_info"`
}

// SuccessPayload acknowledges an event by name.
type SuccessPayload struct {
	Event string `json:"event"`
}

// ErrorPayload reports a recoverable per-message failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientMessage is what clients send.
type ClientMessage struct {
	Action         string `json:"action"`
	NotificationID string `json:"notification_id,omitempty"`
}
