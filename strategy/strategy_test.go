package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/types"
)

const testPair = "XBTEUR"

// testParams mirror the production defaults: K_ACT=4.5, K_STOP=2.5,
// MIN_MARGIN=0.01, which derives ATR_MIN_PCT=0.005.
func testParams() map[string]config.PairParams {
	kAct := decimal.RequireFromString("4.5")
	kStop := decimal.RequireFromString("2.5")
	minMargin := decimal.RequireFromString("0.01")
	return map[string]config.PairParams{
		testPair: {
			KAct:         kAct,
			KStopSell:    kStop,
			KStopBuy:     kStop,
			KStop:        kStop,
			MinMarginPct: minMargin,
			ATRMinPct:    minMargin.Div(kAct.Sub(kStop)),
		},
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestForMode(t *testing.T) {
	params := testParams()
	m, err := ForMode(config.ModeMultipliers, params)
	if err != nil || m.Name() != config.ModeMultipliers {
		t.Fatalf("multipliers dispatch: %v %v", m, err)
	}
	r, err := ForMode(config.ModeRebuy, params)
	if err != nil || r.Name() != config.ModeRebuy {
		t.Fatalf("rebuy dispatch: %v %v", r, err)
	}
	if _, err := ForMode("martingale", params); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

// A buy fill at 60000 with ATR 300 must arm a SELL position activating at
// entry + 4.5*300 = 61350.
func TestMultipliersOnFillBuy(t *testing.T) {
	m := NewMultipliers(testParams())

	atr := dec("300")
	side, snapshot, activation := m.OnFill(types.Buy, dec("60000"), &atr, testPair)

	if side != types.Sell {
		t.Fatalf("expected inverted side sell, got %s", side)
	}
	if !snapshot.Equal(dec("300")) {
		t.Fatalf("atr snapshot: %s", snapshot)
	}
	if !activation.Equal(dec("61350")) {
		t.Fatalf("activation price: %s", activation)
	}
}

// A sell fill mirrors: BUY position activating at entry - K_ACT*atr.
func TestMultipliersOnFillSell(t *testing.T) {
	m := NewMultipliers(testParams())

	atr := dec("300")
	side, _, activation := m.OnFill(types.Sell, dec("60000"), &atr, testPair)

	if side != types.Buy {
		t.Fatalf("expected inverted side buy, got %s", side)
	}
	if !activation.Equal(dec("58650")) {
		t.Fatalf("activation price: %s", activation)
	}
}

// ATR 150 on a 60000 entry is 0.25%, below the 0.5% floor: the floor value
// 300 substitutes and the activation lands at 61350 anyway.
func TestMultipliersATRFloor(t *testing.T) {
	m := NewMultipliers(testParams())

	atr := dec("150")
	_, snapshot, activation := m.OnFill(types.Buy, dec("60000"), &atr, testPair)

	if !snapshot.Equal(dec("300")) {
		t.Fatalf("floored atr: %s", snapshot)
	}
	if !activation.Equal(dec("61350")) {
		t.Fatalf("activation price: %s", activation)
	}
}

func TestMultipliersATRUnavailable(t *testing.T) {
	m := NewMultipliers(testParams())
	if got := m.ATRValue(dec("60000"), nil, testPair); !got.Equal(dec("300")) {
		t.Fatalf("missing-feed substitution: %s", got)
	}
}

// Raw stop distance 2.5*300=750 fits inside the margin space
// (61400 - 60600 = 800), so the stop sits at 61400-750 = 60650.
func TestMultipliersStopWithinMarginSpace(t *testing.T) {
	m := NewMultipliers(testParams())
	stop := m.StopPrice(types.Sell, dec("60000"), dec("61400"), dec("300"), testPair)
	if !stop.Equal(dec("60650")) {
		t.Fatalf("stop price: %s", stop)
	}
}

// With the reference barely above entry the raw distance would cross the
// margin floor; the clamp shrinks the distance to the available space.
func TestMultipliersStopClampedToMarginFloor(t *testing.T) {
	m := NewMultipliers(testParams())
	// Space above the floor: (60700-60000) - 600 = 100 < 750 raw.
	stop := m.StopPrice(types.Sell, dec("60000"), dec("60700"), dec("300"), testPair)
	if !stop.Equal(dec("60600")) {
		t.Fatalf("clamped stop: %s", stop)
	}
	// Floor not reachable at all: distance collapses to zero, the stop
	// pins to the reference instead of crossing the floor.
	stop = m.StopPrice(types.Sell, dec("60000"), dec("60300"), dec("300"), testPair)
	if !stop.Equal(dec("60300")) {
		t.Fatalf("pinned stop: %s", stop)
	}
}

func TestMultipliersStopBuyMirror(t *testing.T) {
	m := NewMultipliers(testParams())
	// Space below the floor for a buy: (60000-58600) - 600 = 800, raw 750.
	stop := m.StopPrice(types.Buy, dec("60000"), dec("58600"), dec("300"), testPair)
	if !stop.Equal(dec("59350")) {
		t.Fatalf("buy stop: %s", stop)
	}
}

// Rebuy pads the activation distance with an entry fraction: sell pads by
// 1.06%, buy by 0.1%.
func TestRebuyActivationDistances(t *testing.T) {
	r := NewRebuy(testParams())

	sell := r.ActivationDistance(types.Sell, dec("300"), dec("60000"), testPair)
	// 2.5*300 + 0.0106*60000 = 750 + 636 = 1386
	if !sell.Equal(dec("1386")) {
		t.Fatalf("sell activation distance: %s", sell)
	}

	buy := r.ActivationDistance(types.Buy, dec("300"), dec("60000"), testPair)
	// 2.5*300 + 0.001*60000 = 750 + 60 = 810
	if !buy.Equal(dec("810")) {
		t.Fatalf("buy activation distance: %s", buy)
	}
}

// Rebuy trails the raw ATR with no floor and no clamp.
func TestRebuyStopPrice(t *testing.T) {
	r := NewRebuy(testParams())

	stop := r.StopPrice(types.Sell, dec("60000"), dec("61400"), dec("100"), testPair)
	if !stop.Equal(dec("61150")) {
		t.Fatalf("sell stop: %s", stop)
	}
	stop = r.StopPrice(types.Buy, dec("60000"), dec("58600"), dec("100"), testPair)
	if !stop.Equal(dec("58850")) {
		t.Fatalf("buy stop: %s", stop)
	}
}

// The raw sample passes straight through, below-floor values included.
func TestRebuyUsesRawATR(t *testing.T) {
	r := NewRebuy(testParams())
	atr := dec("150")
	if got := r.ATRValue(dec("60000"), &atr, testPair); !got.Equal(dec("150")) {
		t.Fatalf("rebuy must not floor the sample: %s", got)
	}
	// Only a dead feed substitutes the configured fraction.
	if got := r.ATRValue(dec("60000"), nil, testPair); !got.Equal(dec("300")) {
		t.Fatalf("missing-feed substitution: %s", got)
	}
}

func TestRebuyOnFill(t *testing.T) {
	r := NewRebuy(testParams())

	atr := dec("300")
	side, snapshot, activation := r.OnFill(types.Buy, dec("60000"), &atr, testPair)
	if side != types.Sell || !snapshot.Equal(dec("300")) {
		t.Fatalf("unexpected fill result: %s %s", side, snapshot)
	}
	if !activation.Equal(dec("61386")) {
		t.Fatalf("sell activation: %s", activation)
	}

	side, _, activation = r.OnFill(types.Sell, dec("60000"), &atr, testPair)
	if side != types.Buy {
		t.Fatalf("expected buy, got %s", side)
	}
	if !activation.Equal(dec("59190")) {
		t.Fatalf("buy activation: %s", activation)
	}
}
