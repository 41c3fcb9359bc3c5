package trades

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradepulse/tradepulse-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateInstrument(instrument *types.Instrument) error {
	return d.db.Create(instrument).Error
}

func (d *Database) GetInstrument(instrumentID string) (*types.Instrument, error) {
	var instrument types.Instrument
	if err := d.db.Where("instrument_id = ?", instrumentID).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &instrument, nil
}

func (d *Database) GetInstrumentsByIDs(ids []string) (map[string]types.Instrument, error) {
	var instruments []types.Instrument
	if err := d.db.Where("instrument_id IN ?", ids).Find(&instruments).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]types.Instrument, len(instruments))
	for _, ins := range instruments {
		byID[ins.InstrumentID] = ins
	}
	return byID, nil
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetTradesByIDs(ids []string) ([]types.Trade, error) {
	var result []types.Trade
	if err := d.db.Where("trade_id IN ?", ids).Order("created_at ASC, trade_id ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// CreateTrade inserts a trade inside a transaction that locks the instrument
// row, making the at-most-one-non-terminal-per-kind invariant enforceable
// under parallel writers.
func (d *Database) CreateTrade(trade *types.Trade) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var instrument types.Instrument
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("instrument_id = ?", trade.InstrumentID).
			First(&instrument).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.WrapError(types.ErrNotFound, "instrument %s not found", trade.InstrumentID)
			}
			return err
		}

		var openCount int64
		err = tx.Model(&types.Trade{}).
			Where("instrument_id = ? AND kind = ? AND status IN ?",
				trade.InstrumentID, trade.Kind,
				[]types.TradeStatus{types.TradeStatusPending, types.TradeStatusActive}).
			Count(&openCount).Error
		if err != nil {
			return err
		}
		if openCount > 0 {
			return types.WrapError(types.ErrDuplicateActiveTrade,
				"instrument %s already has an open %s trade", instrument.Identity(), trade.Kind)
		}

		return tx.Create(trade).Error
	})
}

// UpdateTradeLocked runs mutate on the trade inside a transaction holding a
// row lock, then saves it. The mutated trade is written back to out.
func (d *Database) UpdateTradeLocked(tradeID string, mutate func(trade *types.Trade, tx *gorm.DB) error) (*types.Trade, error) {
	var out types.Trade
	err := d.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("trade_id = ?", tradeID).
			First(&out).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.WrapError(types.ErrNotFound, "trade %s not found", tradeID)
			}
			return err
		}
		if err := mutate(&out, tx); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LatestHistory returns the newest price point of a trade, or nil.
func (d *Database) LatestHistory(tradeID string) (*types.TradeHistory, error) {
	var history types.TradeHistory
	err := d.db.Where("trade_id = ?", tradeID).
		Order("recorded_at DESC, id DESC").
		First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &history, nil
}

// LatestHistories returns the newest price point per trade for a set of trades.
func (d *Database) LatestHistories(tradeIDs []string) (map[string]types.TradeHistory, error) {
	var rows []types.TradeHistory
	err := d.db.Where("trade_id IN ?", tradeIDs).
		Order("recorded_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	latest := make(map[string]types.TradeHistory)
	for _, row := range rows {
		latest[row.TradeID] = row
	}
	return latest, nil
}

func (d *Database) ListHistory(tradeID string) ([]types.TradeHistory, error) {
	var rows []types.TradeHistory
	err := d.db.Where("trade_id = ?", tradeID).
		Order("recorded_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *Database) GetAnalysis(tradeID string) (*types.Analysis, error) {
	var analysis types.Analysis
	if err := d.db.Where("trade_id = ?", tradeID).First(&analysis).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

func (d *Database) SaveAnalysis(analysis *types.Analysis) error {
	return d.db.Save(analysis).Error
}

func (d *Database) GetInsight(tradeID string) (*types.Insight, error) {
	var insight types.Insight
	if err := d.db.Where("trade_id = ?", tradeID).First(&insight).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &insight, nil
}

func (d *Database) SaveInsight(insight *types.Insight) error {
	return d.db.Save(insight).Error
}

// OpenTradeKinds returns the trade kinds that currently have a non-terminal
// trade on the instrument.
func (d *Database) OpenTradeKinds(instrumentID string) ([]types.TradeKind, error) {
	var kinds []types.TradeKind
	err := d.db.Model(&types.Trade{}).
		Where("instrument_id = ? AND status IN ?", instrumentID,
			[]types.TradeStatus{types.TradeStatusPending, types.TradeStatusActive}).
		Pluck("kind", &kinds).Error
	if err != nil {
		return nil, err
	}
	return kinds, nil
}

// ListSurfacedTrades returns every trade a set of plan levels may surface:
// status ACTIVE or COMPLETED at one of the given tiers, plus free calls at
// any tier. Ordered by created_at then trade id for determinism.
func (d *Database) ListSurfacedTrades(tiers []types.PlanTier) ([]types.Trade, error) {
	statuses := []types.TradeStatus{types.TradeStatusActive, types.TradeStatusCompleted}
	var result []types.Trade
	q := d.db.Where("status IN ?", statuses)
	if len(tiers) > 0 {
		q = q.Where("plan_tier IN ? OR free_call = ?", tiers, true)
	} else {
		q = q.Where("free_call = ?", true)
	}
	if err := q.Order("created_at ASC, trade_id ASC").Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// CurrentTradesByInstrument returns the newest surfaced trade per
// (instrument, kind), building the grouped live view.
func (d *Database) CurrentTradesByInstrument(instrumentIDs []string) (map[string]map[types.TradeKind]types.Trade, error) {
	statuses := []types.TradeStatus{types.TradeStatusActive, types.TradeStatusCompleted}
	var rows []types.Trade
	err := d.db.Where("instrument_id IN ? AND status IN ?", instrumentIDs, statuses).
		Order("created_at ASC, trade_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	grouped := make(map[string]map[types.TradeKind]types.Trade)
	for _, row := range rows {
		byKind, ok := grouped[row.InstrumentID]
		if !ok {
			byKind = make(map[types.TradeKind]types.Trade, 2)
			grouped[row.InstrumentID] = byKind
		}
		// Later rows are newer; active trades shadow completed ones.
		if current, exists := byKind[row.Kind]; exists {
			if current.Status == types.TradeStatusActive && row.Status != types.TradeStatusActive {
				continue
			}
		}
		byKind[row.Kind] = row
	}
	return grouped, nil
}

// CompletedTradeAggregates feeds the statistics endpoint: totals, how many
// completed at or above target, and average active duration in hours.
func (d *Database) CompletedTradeAggregates() (total int64, avgDurationHours float64, err error) {
	err = d.db.Model(&types.Trade{}).
		Where("status = ?", types.TradeStatusCompleted).
		Count(&total).Error
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}

	var trades []types.Trade
	if err = d.db.Where("status = ? AND completed_at IS NOT NULL", types.TradeStatusCompleted).Find(&trades).Error; err != nil {
		return 0, 0, err
	}
	var sumHours float64
	for _, t := range trades {
		if t.CompletedAt != nil {
			sumHours += t.CompletedAt.Sub(t.CreatedAt).Hours()
		}
	}
	if len(trades) > 0 {
		avgDurationHours = sumHours / float64(len(trades))
	}
	return total, avgDurationHours, nil
}

// SuccessfulCompletedCount counts completed trades with a successful
// outcome, approximated by an attached insight scoring 50 or better.
func (d *Database) SuccessfulCompletedCount() (int64, error) {
	var count int64
	err := d.db.Model(&types.Insight{}).
		Joins("JOIN trades ON trades.trade_id = insights.trade_id").
		Where("trades.status = ? AND insights.accuracy_score >= ?", types.TradeStatusCompleted, 50.0).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
