package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/types"
)

// Multipliers is the symmetric ATR-multiple policy: activation at
// K_ACT * ATR from entry, stop trailing at K_STOP * ATR, with the stop
// clamped so it never gives back the configured minimum margin.
type Multipliers struct {
	params map[string]config.PairParams
}

func NewMultipliers(params map[string]config.PairParams) *Multipliers {
	return &Multipliers{params: params}
}

func (m *Multipliers) Name() string { return config.ModeMultipliers }

func (m *Multipliers) pair(pair string) config.PairParams {
	return m.params[pair]
}

// OnFill inverts the fill side and places the activation K_ACT * ATR away
// from entry, in the profitable direction.
func (m *Multipliers) OnFill(fillSide types.Side, entry decimal.Decimal, currentATR *decimal.Decimal, pair string) (types.Side, decimal.Decimal, decimal.Decimal) {
	atr := m.ATRValue(entry, currentATR, pair)
	dist := m.ActivationDistance(fillSide.Invert(), atr, entry, pair)

	newSide := fillSide.Invert()
	var activation decimal.Decimal
	if newSide == types.Sell {
		activation = entry.Add(dist)
	} else {
		activation = entry.Sub(dist)
	}
	return newSide, atr, activation
}

// ATRValue floors the sample at ATR_MIN_PCT of the price, and substitutes
// the floor outright when the feed is unavailable.
func (m *Multipliers) ATRValue(entry decimal.Decimal, currentATR *decimal.Decimal, pair string) decimal.Decimal {
	floor := entry.Mul(m.pair(pair).ATRMinPct)
	if currentATR == nil {
		return floor
	}
	if currentATR.LessThan(floor) {
		return floor
	}
	return *currentATR
}

// ActivationDistance is K_ACT * ATR, side-independent.
func (m *Multipliers) ActivationDistance(_ types.Side, atr, _ decimal.Decimal, pair string) decimal.Decimal {
	return m.pair(pair).KAct.Mul(atr)
}

// StopPrice trails K_STOP * ATR behind the reference, clamped so the stop
// never crosses the minimum-margin floor relative to entry. When the floor
// is not yet reachable the stop distance collapses toward zero instead of
// crossing it.
func (m *Multipliers) StopPrice(side types.Side, entry, trailingRef, atr decimal.Decimal, pair string) decimal.Decimal {
	p := m.pair(pair)
	rawStop := p.KStop.Mul(atr)
	minMargin := entry.Mul(p.MinMarginPct)

	var maxSpace decimal.Decimal
	if side == types.Sell {
		maxSpace = trailingRef.Sub(entry).Sub(minMargin)
	} else {
		maxSpace = entry.Sub(trailingRef).Sub(minMargin)
	}
	if maxSpace.IsNegative() {
		maxSpace = decimal.Zero
	}
	stopDist := decimal.Min(rawStop, maxSpace)

	if side == types.Sell {
		return trailingRef.Sub(stopDist)
	}
	return trailingRef.Add(stopDist)
}
