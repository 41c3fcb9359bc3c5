package trades

import (
	"sort"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

// BuildTradeCard renders the denormalized card for one trade.
func BuildTradeCard(trade types.Trade, instrument types.Instrument, prices *types.TradeHistory) types.TradeCard {
	return types.TradeCard{
		TradeID:        trade.TradeID,
		Instrument:     instrument.Identity(),
		Exchange:       instrument.Exchange,
		TradingSymbol:  instrument.TradingSymbol,
		InstrumentKind: instrument.Kind,
		Kind:           trade.Kind,
		Status:         trade.Status,
		PlanTier:       trade.PlanTier,
		RiskLevel:      trade.RiskLevel,
		FreeCall:       trade.FreeCall,
		ChartImage:     trade.ChartImage,
		Prices:         types.PriceCardFromHistory(prices),
		CreatedAt:      trade.CreatedAt,
		CompletedAt:    trade.CompletedAt,
	}
}

// BuildTradeCards renders cards for a set of trade ids, resolving
// instruments and latest prices in bulk. Unknown ids are skipped.
func (s *Service) BuildTradeCards(tradeIDs []string) ([]types.TradeCard, error) {
	if len(tradeIDs) == 0 {
		return nil, nil
	}
	tradesByID, instruments, prices, err := s.loadCardData(tradeIDs)
	if err != nil {
		return nil, err
	}

	cards := make([]types.TradeCard, 0, len(tradeIDs))
	for _, id := range tradeIDs {
		trade, ok := tradesByID[id]
		if !ok {
			continue
		}
		instrument, ok := instruments[trade.InstrumentID]
		if !ok {
			continue
		}
		var latest *types.TradeHistory
		if h, ok := prices[id]; ok {
			latest = &h
		}
		cards = append(cards, BuildTradeCard(trade, instrument, latest))
	}
	return cards, nil
}

// BuildInstrumentCards groups the given trades into per-instrument cards
// with the current intraday and positional slots filled independently.
func (s *Service) BuildInstrumentCards(tradeIDs []string) ([]types.InstrumentCard, error) {
	if len(tradeIDs) == 0 {
		return []types.InstrumentCard{}, nil
	}
	tradesByID, instruments, prices, err := s.loadCardData(tradeIDs)
	if err != nil {
		return nil, err
	}

	cardsByInstrument := make(map[string]*types.InstrumentCard)
	for _, id := range tradeIDs {
		trade, ok := tradesByID[id]
		if !ok {
			continue
		}
		instrument, ok := instruments[trade.InstrumentID]
		if !ok {
			continue
		}
		card, ok := cardsByInstrument[trade.InstrumentID]
		if !ok {
			card = &types.InstrumentCard{
				InstrumentID: instrument.InstrumentID,
				Instrument:   instrument.Identity(),
				Kind:         instrument.Kind,
			}
			cardsByInstrument[trade.InstrumentID] = card
		}

		var latest *types.TradeHistory
		if h, ok := prices[id]; ok {
			latest = &h
		}
		tradeCard := BuildTradeCard(trade, instrument, latest)
		switch trade.Kind {
		case types.TradeKindIntraday:
			if card.IntradayTrade == nil || tradeCard.CreatedAt.After(card.IntradayTrade.CreatedAt) {
				card.IntradayTrade = &tradeCard
			}
		case types.TradeKindPositional:
			if card.PositionalTrade == nil || tradeCard.CreatedAt.After(card.PositionalTrade.CreatedAt) {
				card.PositionalTrade = &tradeCard
			}
		}
	}

	cards := make([]types.InstrumentCard, 0, len(cardsByInstrument))
	for _, card := range cardsByInstrument {
		cards = append(cards, *card)
	}
	sort.Slice(cards, func(i, j int) bool {
		return cards[i].Instrument < cards[j].Instrument
	})
	return cards, nil
}

// BuildChangeCard renders the single instrument card for one committed
// change; the other trade-kind slot is resolved so the card is complete.
func (s *Service) BuildChangeCard(change Change) (types.InstrumentCard, error) {
	card := types.InstrumentCard{
		InstrumentID: change.Instrument.InstrumentID,
		Instrument:   change.Instrument.Identity(),
		Kind:         change.Instrument.Kind,
	}

	tradeCard := BuildTradeCard(change.Trade, change.Instrument, change.Prices)
	grouped, err := s.db.CurrentTradesByInstrument([]string{change.Instrument.InstrumentID})
	if err != nil {
		return card, err
	}

	for kind, other := range grouped[change.Instrument.InstrumentID] {
		if other.TradeID == change.Trade.TradeID {
			continue
		}
		latest, err := s.db.LatestHistory(other.TradeID)
		if err != nil {
			return card, err
		}
		otherCard := BuildTradeCard(other, change.Instrument, latest)
		switch kind {
		case types.TradeKindIntraday:
			card.IntradayTrade = &otherCard
		case types.TradeKindPositional:
			card.PositionalTrade = &otherCard
		}
	}

	switch change.Trade.Kind {
	case types.TradeKindIntraday:
		card.IntradayTrade = &tradeCard
	case types.TradeKindPositional:
		card.PositionalTrade = &tradeCard
	}
	return card, nil
}

func (s *Service) loadCardData(tradeIDs []string) (map[string]types.Trade, map[string]types.Instrument, map[string]types.TradeHistory, error) {
	rows, err := s.db.GetTradesByIDs(tradeIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	tradesByID := make(map[string]types.Trade, len(rows))
	instrumentIDs := make([]string, 0, len(rows))
	seen := make(map[string]bool)
	for _, trade := range rows {
		tradesByID[trade.TradeID] = trade
		if !seen[trade.InstrumentID] {
			seen[trade.InstrumentID] = true
			instrumentIDs = append(instrumentIDs, trade.InstrumentID)
		}
	}

	instruments, err := s.db.GetInstrumentsByIDs(instrumentIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	prices, err := s.db.LatestHistories(tradeIDs)
	if err != nil {
		return nil, nil, nil, err
	}
	return tradesByID, instruments, prices, nil
}
