package testutils

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/types"
)

// PlacedOrder captures one PlaceLimit invocation for assertions.
type PlacedOrder struct {
	Pair   string
	Side   types.Side
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// MockExchange implements the exchange port in-memory. Canned responses go
// into the exported fields; every order submission is recorded.
type MockExchange struct {
	mu sync.Mutex

	Balances   map[string]decimal.Decimal
	BalanceErr error

	Prices   map[string]decimal.Decimal // keyed by primary symbol
	PriceErr error

	ATRs   map[string]decimal.Decimal // keyed by logical pair
	ATRErr error

	Fills    map[string]types.Fill
	FillsErr error

	PlaceErr    error
	NextOrderID string

	orders    []PlacedOrder
	cancelled []string
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Balances:    map[string]decimal.Decimal{},
		Prices:      map[string]decimal.Decimal{},
		ATRs:        map[string]decimal.Decimal{},
		Fills:       map[string]types.Fill{},
		NextOrderID: "MOCK-ORDER-1",
	}
}

func (m *MockExchange) Balance() (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return nil, m.BalanceErr
	}
	out := make(map[string]decimal.Decimal, len(m.Balances))
	for k, v := range m.Balances {
		out[k] = v
	}
	return out, nil
}

func (m *MockExchange) LastPrice(primary string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PriceErr != nil {
		return decimal.Zero, m.PriceErr
	}
	price, ok := m.Prices[primary]
	if !ok {
		return decimal.Zero, errors.New("no price for " + primary)
	}
	return price, nil
}

func (m *MockExchange) CurrentATR(pair string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ATRErr != nil {
		return decimal.Zero, m.ATRErr
	}
	atr, ok := m.ATRs[pair]
	if !ok {
		return decimal.Zero, errors.New("no atr for " + pair)
	}
	return atr, nil
}

func (m *MockExchange) ClosedOrdersBetween(start, closedAfter int64) (map[string]types.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FillsErr != nil {
		return nil, m.FillsErr
	}
	out := make(map[string]types.Fill, len(m.Fills))
	for id, f := range m.Fills {
		out[id] = f
	}
	return out, nil
}

func (m *MockExchange) PlaceLimit(pair string, side types.Side, price, volume decimal.Decimal) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.orders = append(m.orders, PlacedOrder{Pair: pair, Side: side, Price: price, Volume: volume})
	return m.NextOrderID, nil
}

func (m *MockExchange) CancelOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, orderID)
	return nil
}

// Orders returns a copy of all recorded order submissions.
func (m *MockExchange) Orders() []PlacedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlacedOrder, len(m.orders))
	copy(out, m.orders)
	return out
}

// Cancelled returns the ids passed to CancelOrder.
func (m *MockExchange) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}
