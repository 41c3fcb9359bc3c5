// Package emitter bridges committed domain mutations to the push fabric. It
// renders the canonical event payload for a change, works out who may see
// it, writes the durable notifications and only then publishes to the bus.
package emitter

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/internal/types"
)

type Emitter struct {
	bus           *bus.Bus
	notifications *notifications.Service
	subscriptions *subscriptions.Service
	resolver      *entitlement.Resolver
	now           func() time.Time
}

func New(b *bus.Bus, n *notifications.Service, s *subscriptions.Service, r *entitlement.Resolver) *Emitter {
	return &Emitter{
		bus:           b,
		notifications: n,
		subscriptions: s,
		resolver:      r,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Emitter) SetClock(now func() time.Time) {
	e.now = now
}

// TradeChanged runs after the mutation's transaction has committed. PENDING
// trades never produce events; everything else becomes one event, one
// notification per eligible recipient, one broadcast publish and one
// per-user publish carrying the recipient's inbox row.
func (e *Emitter) TradeChanged(change trades.Change) {
	if change.Trade.Status == types.TradeStatusPending {
		return
	}

	logger := log.With().
		Str("operation", "emit_trade_event").
		Str("trade_id", change.Trade.TradeID).
		Str("action", string(change.Action)).
		Logger()

	event := types.TradeEvent{
		TradeID:      change.Trade.TradeID,
		Action:       change.Action,
		Card:         trades.BuildTradeCard(change.Trade, change.Instrument, change.Prices),
		InstrumentID: change.Instrument.InstrumentID,
		OccurredAt:   change.OccurredAt,
	}

	recipients, err := e.eligibleRecipients(&change.Trade)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve eligible recipients")
		// Live push still goes out; connected clients filter per entitlement.
		e.bus.Publish(bus.BroadcastGroup, event)
		return
	}

	rows, err := e.notifications.Record(event, recipients)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to persist notifications")
		rows = nil
	}

	e.bus.Publish(bus.BroadcastGroup, event)
	for _, userID := range recipients {
		userEvent := event
		if row, ok := rows[userID]; ok {
			userEvent.Notification = &row
		}
		e.bus.Publish(bus.UserGroup(userID), userEvent)
	}

	logger.Info().
		Int("recipients", len(recipients)).
		Str("dedup_key", event.DedupKey()).
		Msg("Trade event emitted")
}

// eligibleRecipients evaluates entitlement once per event against currently
// active subscriptions.
func (e *Emitter) eligibleRecipients(trade *types.Trade) ([]string, error) {
	subs, err := e.subscriptions.ActiveSubscribers(e.now())
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(subs))
	for i := range subs {
		admit, err := e.resolver.AdmitsEvent(&subs[i], trade)
		if err != nil {
			return nil, err
		}
		if admit {
			recipients = append(recipients, subs[i].UserID)
		}
	}
	return recipients, nil
}
