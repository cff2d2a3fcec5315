// Package exchange defines the narrow exchange port the trading core needs
// and its Kraken REST implementation. Symbol translation between logical
// pair ids and Kraken wire names lives entirely on this side of the port.
package exchange

import (
	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/types"
)

// Exchange is the contract the engine, scheduler and control plane call.
// Implementations must be safe for concurrent use from the trading loop and
// the control-plane loop.
type Exchange interface {
	// Balance returns the account balance keyed by asset ledger code.
	Balance() (map[string]decimal.Decimal, error)

	// LastPrice returns the last traded price for a primary symbol.
	LastPrice(primary string) (decimal.Decimal, error)

	// CurrentATR returns the recent Average True Range for a logical pair,
	// in quote-asset units. An error means "ATR unavailable"; the strategy
	// substitutes its floor.
	CurrentATR(pair string) (decimal.Decimal, error)

	// ClosedOrdersBetween returns closed fills: the query starts at start
	// (unix seconds) and only fills with close time >= closedAfter are
	// returned.
	ClosedOrdersBetween(start, closedAfter int64) (map[string]types.Fill, error)

	// PlaceLimit submits a limit order and returns the exchange order id.
	PlaceLimit(pair string, side types.Side, price, volume decimal.Decimal) (string, error)

	// CancelOrder cancels an open order by id.
	CancelOrder(orderID string) error
}
