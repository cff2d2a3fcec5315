// Package strategy holds the pluggable trailing policies. A strategy is a
// set of pure functions over prices and ATR samples; the variant chosen at
// position creation is frozen on the position as its mode, so a later MODE
// change never affects existing positions.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/types"
)

// Strategy is the capability set the engine dispatches on.
//
// currentATR is nil when the ATR feed is unavailable; implementations must
// substitute their floor in that case.
type Strategy interface {
	// Name returns the mode identifier recorded on positions.
	Name() string

	// OnFill derives the trailing parameters for a fresh fill: the side the
	// position will execute at close, the ATR snapshot used, and the
	// activation price.
	OnFill(fillSide types.Side, entry decimal.Decimal, currentATR *decimal.Decimal, pair string) (types.Side, decimal.Decimal, decimal.Decimal)

	// ATRValue applies the strategy's ATR floor to a fresh sample.
	ATRValue(entry decimal.Decimal, currentATR *decimal.Decimal, pair string) decimal.Decimal

	// ActivationDistance is the distance from entry to the activation price.
	ActivationDistance(side types.Side, atr, entry decimal.Decimal, pair string) decimal.Decimal

	// StopPrice derives the stop from a trailing reference price. The
	// margin-floor clamp, where the strategy declares one, lives here.
	StopPrice(side types.Side, entry, trailingRef, atr decimal.Decimal, pair string) decimal.Decimal
}

// ForMode returns the strategy registered under the given mode name.
func ForMode(mode string, params map[string]config.PairParams) (Strategy, error) {
	switch mode {
	case config.ModeMultipliers:
		return NewMultipliers(params), nil
	case config.ModeRebuy:
		return NewRebuy(params), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}
