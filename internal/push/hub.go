package push

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse-api/internal/auth"
	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/config"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/internal/types"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub owns every live push connection and the collaborators the handshake
// and fan-out need.
type Hub struct {
	bus           *bus.Bus
	identity      auth.Identity
	subscriptions *subscriptions.Service
	trades        *trades.Service
	notifications *notifications.Service
	resolver      *entitlement.Resolver
	access        *entitlement.UserAccess
	cfg           config.PushConfig

	mu      sync.Mutex
	clients map[*Client]bool
	now     func() time.Time
}

func NewHub(
	b *bus.Bus,
	identity auth.Identity,
	subs *subscriptions.Service,
	tradeSvc *trades.Service,
	notifSvc *notifications.Service,
	resolver *entitlement.Resolver,
	cfg config.PushConfig,
) *Hub {
	return &Hub{
		bus:           b,
		identity:      identity,
		subscriptions: subs,
		trades:        tradeSvc,
		notifications: notifSvc,
		resolver:      resolver,
		access:        entitlement.NewUserAccess(resolver, subs),
		cfg:           cfg,
		clients:       make(map[*Client]bool),
		now:           time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (h *Hub) SetClock(now func() time.Time) {
	h.now = now
}

// TradesHandler serves the trade-updates channel.
func (h *Hub) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) { h.serve(c, ChannelTrades) }
}

// IndicesHandler serves the index/commodity channel.
func (h *Hub) IndicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) { h.serve(c, ChannelIndices) }
}

// NotificationsHandler serves the notification channel.
func (h *Hub) NotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) { h.serve(c, ChannelNotifications) }
}

// ClientCount reports live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every live connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		client.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// serve runs the handshake: authenticate, pin the active subscription, join
// the user's push group, replay the snapshot, acknowledge, then pump.
func (h *Hub) serve(c *gin.Context, channel Channel) {
	logger := log.With().
		Str("operation", "push_connect").
		Str("channel", string(channel)).
		Logger()

	token := middleware.ExtractToken(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	if token == "" {
		closeWith(conn, CloseNoToken, "no authentication token provided")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), auth.ValidateTimeout)
	claims, err := h.identity.ValidateToken(ctx, token)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, types.ErrTimeout):
			closeWith(conn, CloseUnexpectedAuth, "token validation timed out")
		case errors.Is(err, types.ErrUnauthenticated):
			closeWith(conn, CloseInvalidToken, "invalid or expired token")
		default:
			closeWith(conn, CloseAuthFailed, "authentication failed")
		}
		return
	}

	now := h.now()
	sub, err := h.subscriptions.ActiveSubscription(claims.UserID, now)
	if err != nil {
		logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to load subscription")
		closeWith(conn, CloseSetupFailure, "setup failure")
		return
	}
	if sub == nil && channel != ChannelNotifications {
		closeWith(conn, CloseNoSubscription, "no active subscription")
		return
	}

	client := newClient(h, conn, channel, claims.UserID, sub)

	initial, err := client.snapshotFrame()
	if err != nil {
		logger.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to build initial snapshot")
		closeWith(conn, CloseSetupFailure, "setup failure")
		return
	}

	client.busSub = h.bus.Subscribe(bus.UserGroup(claims.UserID))
	client.broadcastSub = h.bus.Subscribe(bus.BroadcastGroup)
	h.register(client)

	client.send <- initial
	if ack, err := newFrame(FrameSuccess, SuccessPayload{Event: "connected"}); err == nil {
		client.send <- ack
	}

	logger.Info().Str("user_id", claims.UserID).Msg("Push connection established")

	go client.writePump()
	go client.eventPump()
	client.readPump()
}

// closeWith sends a close frame carrying one of the protocol closure codes
// and drops the connection.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
