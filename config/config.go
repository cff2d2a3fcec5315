// Package config loads and validates the daemon configuration from the
// environment (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Modes selectable via MODE.
const (
	ModeMultipliers = "multipliers"
	ModeRebuy       = "rebuy"
)

// PairParams holds the tunable trading parameters for one pair.
type PairParams struct {
	KAct         decimal.Decimal // activation distance multiplier
	KStopSell    decimal.Decimal // stop distance multiplier, sell side
	KStopBuy     decimal.Decimal // stop distance multiplier, buy side
	KStop        decimal.Decimal // (KStopSell + KStopBuy) / 2
	MinMarginPct decimal.Decimal // minimum profit margin vs entry, fraction
	ATRMinPct    decimal.Decimal // MinMarginPct / (KAct - KStop)
}

// Config is the full daemon configuration.
type Config struct {
	// Kraken API credentials
	KrakenAPIKey    string
	KrakenAPISecret string

	// Telegram control plane
	TelegramToken   string
	AllowedUserID   int64
	PollIntervalSec int

	// Bot settings
	Mode             string
	SleepingInterval int // seconds between sessions
	ATRDataDays      int // historical window for the ATR query

	Pairs         []string
	TradingParams map[string]PairParams
	MinAllocation map[string]decimal.Decimal // base-asset floor per pair, [0,1]

	// Operational
	DataDir     string
	MetricsAddr string // empty disables the prometheus endpoint
}

// New reads the configuration from the environment and validates it.
func New() (*Config, error) {
	allowedID, _ := strconv.ParseInt(os.Getenv("ALLOWED_USER_ID"), 10, 64)

	cfg := &Config{
		KrakenAPIKey:     os.Getenv("KRAKEN_API_KEY"),
		KrakenAPISecret:  os.Getenv("KRAKEN_API_SECRET"),
		TelegramToken:    os.Getenv("TELEGRAM_TOKEN"),
		AllowedUserID:    allowedID,
		PollIntervalSec:  envInt("POLL_INTERVAL_SEC", 20),
		Mode:             envStr("MODE", ModeRebuy),
		SleepingInterval: envInt("SLEEPING_INTERVAL", 60),
		ATRDataDays:      envInt("ATR_DATA_DAYS", 60),
		DataDir:          envStr("DATA_DIR", "data"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	for _, p := range strings.Split(envStr("PAIRS", "XBTEUR"), ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			cfg.Pairs = append(cfg.Pairs, p)
		}
	}

	if err := cfg.buildTradingParams(); err != nil {
		return nil, err
	}
	cfg.buildMinAllocation()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildTradingParams resolves per-pair overrides over the global defaults
// and derives KStop and ATRMinPct.
func (c *Config) buildTradingParams() error {
	dfltKAct := envDec("K_ACT", "4.5")
	dfltKStopSell := envDec("K_STOP_SELL", "2.5")
	dfltKStopBuy := envDec("K_STOP_BUY", "2.5")
	dfltMinMargin := envDec("MIN_MARGIN", "0.01")

	two := decimal.NewFromInt(2)
	c.TradingParams = make(map[string]PairParams, len(c.Pairs))
	for _, pair := range c.Pairs {
		p := PairParams{
			KAct:         envDec("K_ACT_"+pair, dfltKAct.String()),
			KStopSell:    envDec("K_STOP_SELL_"+pair, dfltKStopSell.String()),
			KStopBuy:     envDec("K_STOP_BUY_"+pair, dfltKStopBuy.String()),
			MinMarginPct: envDec("MIN_MARGIN_"+pair, dfltMinMargin.String()),
		}
		p.KStop = p.KStopSell.Add(p.KStopBuy).Div(two)
		if !p.KAct.GreaterThan(p.KStop) {
			return fmt.Errorf("pair %s: K_ACT (%s) must exceed K_STOP (%s)", pair, p.KAct, p.KStop)
		}
		p.ATRMinPct = p.MinMarginPct.Div(p.KAct.Sub(p.KStop))
		c.TradingParams[pair] = p
	}
	return nil
}

func (c *Config) buildMinAllocation() {
	c.MinAllocation = make(map[string]decimal.Decimal, len(c.Pairs))
	for _, pair := range c.Pairs {
		c.MinAllocation[pair] = envDec("MIN_ALLOCATION_"+pair, "0")
	}
}

// Validate surfaces a clear configuration problem before any trading starts.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return errors.New("no pairs configured")
	}
	if c.KrakenAPIKey == "" || c.KrakenAPISecret == "" {
		return errors.New("missing Kraken API credentials")
	}
	if c.TelegramToken == "" {
		return errors.New("missing TELEGRAM_TOKEN")
	}
	if c.AllowedUserID == 0 {
		return errors.New("missing or invalid ALLOWED_USER_ID")
	}
	if c.Mode != ModeMultipliers && c.Mode != ModeRebuy {
		return fmt.Errorf("MODE (%q) must be %q or %q", c.Mode, ModeMultipliers, ModeRebuy)
	}
	if c.SleepingInterval <= 0 {
		return errors.New("SLEEPING_INTERVAL must be positive")
	}
	if c.PollIntervalSec <= 0 {
		return errors.New("POLL_INTERVAL_SEC must be positive")
	}
	if c.ATRDataDays <= 0 {
		return errors.New("ATR_DATA_DAYS must be positive")
	}
	one := decimal.NewFromInt(1)
	for pair, alloc := range c.MinAllocation {
		if alloc.IsNegative() || alloc.GreaterThan(one) {
			return fmt.Errorf("MIN_ALLOCATION_%s (%s) must be within [0,1]", pair, alloc)
		}
	}
	for pair, p := range c.TradingParams {
		if p.KAct.Sign() <= 0 || p.KStopSell.Sign() <= 0 || p.KStopBuy.Sign() <= 0 {
			return fmt.Errorf("pair %s: trading multipliers must be positive", pair)
		}
		if p.MinMarginPct.IsNegative() {
			return fmt.Errorf("pair %s: MIN_MARGIN must not be negative", pair)
		}
	}
	return nil
}

func envStr(key, dflt string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return dflt
}

func envInt(key string, dflt int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return dflt
}

func envDec(key, dflt string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(dflt)
	return d
}
