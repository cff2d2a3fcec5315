package trader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/engine"
	"github.com/jAjiz/BoTC/store"
	"github.com/jAjiz/BoTC/testutils"
	"github.com/jAjiz/BoTC/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testConfig() *config.Config {
	kAct := dec("4.5")
	kStop := dec("2.5")
	minMargin := dec("0.01")
	return &config.Config{
		Mode:             config.ModeMultipliers,
		SleepingInterval: 60,
		ATRDataDays:      60,
		Pairs:            []string{"XBTEUR"},
		TradingParams: map[string]config.PairParams{
			"XBTEUR": {
				KAct:         kAct,
				KStopSell:    kStop,
				KStopBuy:     kStop,
				KStop:        kStop,
				MinMarginPct: minMargin,
				ATRMinPct:    minMargin.Div(kAct.Sub(kStop)),
			},
		},
		MinAllocation: map[string]decimal.Decimal{"XBTEUR": decimal.Zero},
	}
}

func testPairs() map[string]types.PairInfo {
	return map[string]types.PairInfo{
		"XBTEUR": {ID: "XBTEUR", Primary: "XXBTZEUR", Base: "XXBT", Quote: "ZEUR"},
	}
}

func newTestTrader(t *testing.T) (*Trader, *testutils.MockExchange, *store.Store, *atomic.Bool) {
	t.Helper()

	cfg := testConfig()
	exch := testutils.NewMockExchange()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	log := testutils.NewMockLogger()
	eng, err := engine.New(exch, st, cfg.Mode, cfg.TradingParams, testPairs(), cfg.MinAllocation, log, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	var paused atomic.Bool
	return New(cfg, exch, st, eng, testPairs(), &paused, log), exch, st, &paused
}

// A full session ingests the pending fill, ticks it, and persists the
// armed position.
func TestRunSessionPersistsIngestedFill(t *testing.T) {
	tr, exch, st, _ := newTestTrader(t)

	exch.Balances = map[string]decimal.Decimal{"XXBT": dec("1"), "ZEUR": dec("10000")}
	exch.Prices["XXBTZEUR"] = dec("60500")
	exch.ATRs["XBTEUR"] = dec("300")
	exch.Fills["O1"] = types.Fill{
		ID: "O1", Pair: "XBTEUR", Side: types.Buy,
		Price: dec("60000"), Volume: dec("0.01"), Cost: dec("600"), Status: "closed",
	}

	tr.runSession(context.Background())

	state, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pos, ok := state["XBTEUR"]["O1"]
	if !ok {
		t.Fatal("ingested position not persisted")
	}
	if pos.Side != types.Sell || !pos.ActivationPrice.Equal(dec("61350")) {
		t.Fatalf("persisted position: %+v", pos)
	}
}

// A balance failure skips the whole session: no state file is written.
func TestRunSessionSkipsOnBalanceFailure(t *testing.T) {
	tr, exch, st, _ := newTestTrader(t)

	exch.BalanceErr = context.DeadlineExceeded
	exch.Prices["XXBTZEUR"] = dec("60500")
	exch.ATRs["XBTEUR"] = dec("300")

	tr.runSession(context.Background())

	state, _ := st.Load()
	if len(state) != 0 {
		t.Fatal("skipped session must not touch the state document")
	}
}

// A price failure skips the pair but the session still saves.
func TestRunSessionSkipsPairOnPriceFailure(t *testing.T) {
	tr, exch, st, _ := newTestTrader(t)

	exch.Balances = map[string]decimal.Decimal{"ZEUR": dec("10000")}
	exch.PriceErr = context.DeadlineExceeded
	exch.Fills["O1"] = types.Fill{
		ID: "O1", Pair: "XBTEUR", Side: types.Buy,
		Price: dec("60000"), Volume: dec("0.01"), Cost: dec("600"), Status: "closed",
	}

	tr.runSession(context.Background())

	state, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state["XBTEUR"]) != 0 {
		t.Fatal("pair must be skipped when the price is unavailable")
	}
}

// An ATR failure does not skip the pair; the strategy floor substitutes
// and ingestion proceeds.
func TestRunSessionFallsBackToATRFloor(t *testing.T) {
	tr, exch, st, _ := newTestTrader(t)

	exch.Balances = map[string]decimal.Decimal{"ZEUR": dec("10000")}
	exch.Prices["XXBTZEUR"] = dec("60500")
	exch.ATRErr = context.DeadlineExceeded
	exch.Fills["O1"] = types.Fill{
		ID: "O1", Pair: "XBTEUR", Side: types.Buy,
		Price: dec("60000"), Volume: dec("0.01"), Cost: dec("600"), Status: "closed",
	}

	tr.runSession(context.Background())

	state, _ := st.Load()
	pos, ok := state["XBTEUR"]["O1"]
	if !ok {
		t.Fatal("position must be created with the floor ATR")
	}
	// Floor: 60000 * 0.005 = 300, activation 61350.
	if !pos.ActivationATR.Equal(dec("300")) || !pos.ActivationPrice.Equal(dec("61350")) {
		t.Fatalf("floor substitution: %+v", pos)
	}
}

// While paused the loop never queries the exchange.
func TestRunHonorsPauseFlag(t *testing.T) {
	tr, exch, _, paused := newTestTrader(t)
	tr.cfg.SleepingInterval = 1

	paused.Store(true)
	exch.BalanceErr = context.DeadlineExceeded // a session would log this failure

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
	if len(exch.Orders()) != 0 {
		t.Fatal("paused loop must not trade")
	}
	if msg := tr.log.(*testutils.MockLogger).LastMessage(); msg != "bot is paused, sleeping" {
		t.Fatalf("paused loop ran a session: last log %q", msg)
	}
}

func TestSleepCtx(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatal("expected full sleep to elapse")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Fatal("cancelled context must cut the sleep short")
	}
}
