package types

import (
	"time"

	"gorm.io/gorm"
)

// InstrumentKind is the tagged variant of tradable security types.
type InstrumentKind string

const (
	KindEquity     InstrumentKind = "EQUITY"
	KindFuture     InstrumentKind = "FUTURE"
	KindCallOption InstrumentKind = "CALL_OPTION"
	KindPutOption  InstrumentKind = "PUT_OPTION"
	KindIndex      InstrumentKind = "INDEX"
	KindCommodity  InstrumentKind = "COMMODITY"
)

// Valid reports whether k is one of the known instrument kinds.
func (k InstrumentKind) Valid() bool {
	switch k {
	case KindEquity, KindFuture, KindCallOption, KindPutOption, KindIndex, KindCommodity:
		return true
	}
	return false
}

// RequiresExpiry reports whether the kind is a derivative that must carry an expiry date.
func (k InstrumentKind) RequiresExpiry() bool {
	switch k {
	case KindFuture, KindCallOption, KindPutOption:
		return true
	case KindEquity, KindIndex, KindCommodity:
		return false
	}
	return false
}

// IsIndexOrCommodity reports whether the instrument belongs on the
// index/commodity push channel rather than the main trades channel.
func (k InstrumentKind) IsIndexOrCommodity() bool {
	return k == KindIndex || k == KindCommodity
}

// Instrument identifies a tradable security. Immutable once created
// except for the Active flag.
type Instrument struct {
	gorm.Model    `json:"-"`
	InstrumentID  string         `gorm:"uniqueIndex" json:"instrument_id"`
	Exchange      string         `gorm:"index:idx_instrument_identity,unique" json:"exchange"`
	TradingSymbol string         `gorm:"index:idx_instrument_identity,unique" json:"trading_symbol"`
	Kind          InstrumentKind `gorm:"index:idx_instrument_identity,unique" json:"kind"`
	Expiry        *time.Time     `json:"expiry,omitempty"`
	Active        bool           `gorm:"default:true" json:"active"`
}

// Validate checks the structural invariants of an instrument at creation time.
// Derivative kinds require an expiry that is still in the future.
func (i *Instrument) Validate(now time.Time) error {
	if !i.Kind.Valid() {
		return WrapError(ErrInvalidInput, "unknown instrument kind %q", i.Kind)
	}
	if i.Exchange == "" || i.TradingSymbol == "" {
		return WrapError(ErrInvalidInput, "exchange and trading symbol are required")
	}
	if i.Kind.RequiresExpiry() {
		if i.Expiry == nil {
			return WrapError(ErrInvalidInstrument, "%s instruments require an expiry date", i.Kind)
		}
		if !i.Expiry.After(now) {
			return WrapError(ErrInvalidInstrument, "%s expiry %s is in the past", i.Kind, i.Expiry.Format(time.RFC3339))
		}
	}
	return nil
}

// Identity renders the canonical exchange-qualified symbol, e.g. "NSE:RELIANCE".
func (i *Instrument) Identity() string {
	return i.Exchange + ":" + i.TradingSymbol
}
