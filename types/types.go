package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Invert returns the side a closing order must take.
func (s Side) Invert() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

// Rounding scales used for display and order submission. The in-memory
// model stays decimal; rounding happens at display and order submission,
// and on the recorded P&L. The state document is persisted unrounded.
const (
	PriceScale  int32 = 1
	CostScale   int32 = 2
	VolumeScale int32 = 8
	PnLScale    int32 = 2
)

// TimeLayout is the human-readable timestamp format recorded on positions.
const TimeLayout = "2006-01-02 15:04:05"

func NowString() string {
	return time.Now().Format(TimeLayout)
}

// PairInfo carries the wire aliases of a configured pair. Immutable after
// startup; the engine always addresses pairs by the logical id.
type PairInfo struct {
	ID      string // logical pair id, e.g. "XBTEUR"
	Primary string // symbol for price/order queries, e.g. "XXBTZEUR"
	WSName  string // display/websocket symbol, e.g. "XBT/EUR"
	Base    string // base asset ledger code, e.g. "XXBT"
	Quote   string // quote asset ledger code, e.g. "ZEUR"
}

// Fill is a closed exchange order as returned by the port.
type Fill struct {
	ID        string
	Pair      string // logical pair id
	Side      Side
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Cost      decimal.Decimal
	Status    string
	CloseTime int64 // unix seconds
}

// Position is the engine's unit of work: one virtual trailing order.
//
// TrailingPrice, StopPrice and StopATR are nil while the position is Armed
// and set from the moment it activates; their presence is the state flag.
type Position struct {
	Mode            string           `json:"mode"`
	CreatedTime     string           `json:"created_time"`
	ActivationTime  string           `json:"activation_time,omitempty"`
	ClosingTime     string           `json:"closing_time,omitempty"`
	OpeningOrder    []string         `json:"opening_order"`
	Side            Side             `json:"side"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	Volume          decimal.Decimal  `json:"volume"`
	Cost            decimal.Decimal  `json:"cost"`
	ActivationATR   decimal.Decimal  `json:"activation_atr"`
	ActivationPrice decimal.Decimal  `json:"activation_price"`
	StopATR         *decimal.Decimal `json:"stop_atr,omitempty"`
	StopPrice       *decimal.Decimal `json:"stop_price,omitempty"`
	TrailingPrice   *decimal.Decimal `json:"trailing_price,omitempty"`
	PnL             *decimal.Decimal `json:"pnl,omitempty"`
}

// Active reports whether the trailing stop is live.
func (p *Position) Active() bool {
	return p.TrailingPrice != nil
}

// PairState maps position id (the originating fill id) to position.
type PairState map[string]*Position

// State is the full persisted trailing-state document.
type State map[string]PairState

// ClosedPosition is one record of the append-only closed-positions log.
type ClosedPosition struct {
	Pair         string   `json:"pair"`
	ID           string   `json:"id"`
	ClosingOrder string   `json:"closing_order"`
	Position     Position `json:"position"`
}

// Ptr is a small helper for the optional decimal fields.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
