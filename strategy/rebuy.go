package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/types"
)

// Entry-proportional padding added to the activation distance. Because the
// activation distance is the full stop giveback plus this padding, a stop
// seeded at activation with the same ATR sits at least the padding beyond
// entry, which provides the margin without an explicit clamp.
var (
	rebuySellPad = decimal.RequireFromString("0.0106")
	rebuyBuyPad  = decimal.RequireFromString("0.001")
)

// Rebuy is the asymmetric policy: it trails the raw ATR without a floor and
// earns its margin through entry-proportional padding on the activation
// distance instead of a stop clamp.
type Rebuy struct {
	params map[string]config.PairParams
}

func NewRebuy(params map[string]config.PairParams) *Rebuy {
	return &Rebuy{params: params}
}

func (r *Rebuy) Name() string { return config.ModeRebuy }

func (r *Rebuy) pair(pair string) config.PairParams {
	return r.params[pair]
}

func (r *Rebuy) OnFill(fillSide types.Side, entry decimal.Decimal, currentATR *decimal.Decimal, pair string) (types.Side, decimal.Decimal, decimal.Decimal) {
	atr := r.ATRValue(entry, currentATR, pair)
	newSide := fillSide.Invert()
	dist := r.ActivationDistance(newSide, atr, entry, pair)

	var activation decimal.Decimal
	if newSide == types.Sell {
		activation = entry.Add(dist)
	} else {
		activation = entry.Sub(dist)
	}
	return newSide, atr, activation
}

// ATRValue passes the raw sample through. Rebuy declares no floor; the
// ATR_MIN_PCT fraction only substitutes when the feed is unavailable.
func (r *Rebuy) ATRValue(entry decimal.Decimal, currentATR *decimal.Decimal, pair string) decimal.Decimal {
	if currentATR == nil {
		return entry.Mul(r.pair(pair).ATRMinPct)
	}
	return *currentATR
}

// ActivationDistance is the side's stop multiple plus entry-proportional
// padding.
func (r *Rebuy) ActivationDistance(side types.Side, atr, entry decimal.Decimal, pair string) decimal.Decimal {
	p := r.pair(pair)
	if side == types.Sell {
		return p.KStopSell.Mul(atr).Add(rebuySellPad.Mul(entry))
	}
	return p.KStopBuy.Mul(atr).Add(rebuyBuyPad.Mul(entry))
}

// StopPrice trails the side's stop multiple behind the reference, no clamp.
func (r *Rebuy) StopPrice(side types.Side, _, trailingRef, atr decimal.Decimal, pair string) decimal.Decimal {
	p := r.pair(pair)
	if side == types.Sell {
		return trailingRef.Sub(p.KStopSell.Mul(atr))
	}
	return trailingRef.Add(p.KStopBuy.Mul(atr))
}
