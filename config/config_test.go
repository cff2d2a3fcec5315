package config

import (
	"testing"

	"github.com/shopspring/decimal"
)

// setBaseEnv provides the minimum viable environment for New().
func setBaseEnv(t *testing.T) {
	t.Setenv("KRAKEN_API_KEY", "key")
	t.Setenv("KRAKEN_API_SECRET", "secret")
	t.Setenv("TELEGRAM_TOKEN", "token")
	t.Setenv("ALLOWED_USER_ID", "42")
	t.Setenv("PAIRS", "XBTEUR")
	t.Setenv("MODE", "multipliers")
}

func TestNewDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.SleepingInterval != 60 || cfg.PollIntervalSec != 20 || cfg.ATRDataDays != 60 {
		t.Fatalf("unexpected interval defaults: %+v", cfg)
	}
	if len(cfg.Pairs) != 1 || cfg.Pairs[0] != "XBTEUR" {
		t.Fatalf("unexpected pairs: %v", cfg.Pairs)
	}

	p := cfg.TradingParams["XBTEUR"]
	if !p.KAct.Equal(decimal.RequireFromString("4.5")) {
		t.Fatalf("K_ACT default: %s", p.KAct)
	}
	if !p.KStop.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("K_STOP should average the side multipliers: %s", p.KStop)
	}
	// ATR_MIN_PCT = 0.01 / (4.5 - 2.5) = 0.005
	if !p.ATRMinPct.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("ATR_MIN_PCT derivation: %s", p.ATRMinPct)
	}
}

func TestNewPerPairOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAIRS", "XBTEUR, ETHEUR")
	t.Setenv("K_ACT_ETHEUR", "6")
	t.Setenv("K_STOP_SELL_ETHEUR", "3")
	t.Setenv("K_STOP_BUY_ETHEUR", "2")
	t.Setenv("MIN_MARGIN_ETHEUR", "0.02")
	t.Setenv("MIN_ALLOCATION_ETHEUR", "0.6")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	eth := cfg.TradingParams["ETHEUR"]
	if !eth.KAct.Equal(decimal.NewFromInt(6)) || !eth.KStop.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("override not applied: %+v", eth)
	}
	// 0.02 / (6 - 2.5)
	want := decimal.RequireFromString("0.02").Div(decimal.RequireFromString("3.5"))
	if !eth.ATRMinPct.Equal(want) {
		t.Fatalf("ATR_MIN_PCT: got %s want %s", eth.ATRMinPct, want)
	}
	// XBTEUR keeps the global defaults.
	if !cfg.TradingParams["XBTEUR"].KAct.Equal(decimal.RequireFromString("4.5")) {
		t.Fatal("global default leaked an override")
	}
	if !cfg.MinAllocation["ETHEUR"].Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("MIN_ALLOCATION: %s", cfg.MinAllocation["ETHEUR"])
	}
	if !cfg.MinAllocation["XBTEUR"].IsZero() {
		t.Fatalf("MIN_ALLOCATION default should be 0")
	}
}

func TestNewFailsWithoutPairs(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAIRS", " ")
	if _, err := New(); err == nil {
		t.Fatal("expected error for empty PAIRS")
	}
}

func TestNewFailsWithoutCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("KRAKEN_API_SECRET", "")
	if _, err := New(); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MODE", "martingale")
	if _, err := New(); err == nil {
		t.Fatal("expected error for unknown MODE")
	}
}

func TestNewRejectsDegenerateMultipliers(t *testing.T) {
	// K_ACT == K_STOP would make the ATR floor division blow up.
	setBaseEnv(t)
	t.Setenv("K_ACT", "2.5")
	if _, err := New(); err == nil {
		t.Fatal("expected error for K_ACT <= K_STOP")
	}
}

func TestNewRejectsOutOfRangeAllocation(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MIN_ALLOCATION_XBTEUR", "1.5")
	if _, err := New(); err == nil {
		t.Fatal("expected error for MIN_ALLOCATION > 1")
	}
}
