// Package trader runs the session scheduler: one sampling session per tick
// across all configured pairs, honoring the shared pause flag.
package trader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/engine"
	"github.com/jAjiz/BoTC/exchange"
	"github.com/jAjiz/BoTC/logger"
	"github.com/jAjiz/BoTC/metrics"
	"github.com/jAjiz/BoTC/store"
	"github.com/jAjiz/BoTC/types"
)

// interPairDelay spaces the per-pair exchange queries to respect rate
// limits.
const interPairDelay = time.Second

// Trader owns the single-threaded trading loop. The pause flag is the only
// piece of state shared with the control plane; it is written there and
// read here at the top of every iteration.
type Trader struct {
	cfg    *config.Config
	exch   exchange.Exchange
	store  *store.Store
	engine *engine.Engine
	pairs  map[string]types.PairInfo
	log    logger.Logger
	paused *atomic.Bool
}

func New(
	cfg *config.Config,
	exch exchange.Exchange,
	st *store.Store,
	eng *engine.Engine,
	pairs map[string]types.PairInfo,
	paused *atomic.Bool,
	log logger.Logger,
) *Trader {
	return &Trader{
		cfg:    cfg,
		exch:   exch,
		store:  st,
		engine: eng,
		pairs:  pairs,
		log:    log,
		paused: paused,
	}
}

// Run drives sessions until the context is cancelled. Cancellation is
// observed between pairs, so an in-flight pair always finishes and the
// session's state is saved before returning.
func (t *Trader) Run(ctx context.Context) error {
	interval := time.Duration(t.cfg.SleepingInterval) * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}
		if t.paused.Load() {
			t.log.Info("bot is paused, sleeping")
			metrics.SessionsSkipped.WithLabelValues("paused").Inc()
			if !sleepCtx(ctx, interval) {
				return nil
			}
			continue
		}

		t.runSession(ctx)

		t.log.Info("session complete, sleeping",
			logger.Duration("interval", interval))
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}

// runSession performs one full sampling session. Every per-pair failure is
// contained here; nothing propagates past the loop boundary.
func (t *Trader) runSession(ctx context.Context) {
	t.log.Info("======== STARTING SESSION ========")

	state, err := t.store.Load()
	if err != nil {
		t.log.Error("state load failed, starting from empty state", logger.Err(err))
		state = types.State{}
	}

	balance, err := t.exch.Balance()
	if err != nil {
		t.log.Error("could not fetch balance, skipping session", logger.Err(err))
		metrics.SessionsSkipped.WithLabelValues("balance").Inc()
		return
	}
	t.observeQuoteBalance(balance)

	now := time.Now().Unix()
	oneWeekAgo := now - 7*24*60*60
	twoSessionsAgo := now - int64(t.cfg.SleepingInterval)*2

	for _, pair := range t.cfg.Pairs {
		if ctx.Err() != nil {
			break
		}
		info, ok := t.pairs[pair]
		if !ok {
			continue
		}
		t.runPair(pair, info, state, balance, oneWeekAgo, twoSessionsAgo)
		if !sleepCtx(ctx, interPairDelay) {
			break
		}
	}

	if err := t.store.Save(state); err != nil {
		// Positions already removed in memory are re-derived from the last
		// good snapshot next session; persistence is authoritative.
		t.log.Error("state save failed", logger.Err(err))
		return
	}
	metrics.SessionsTotal.Inc()
}

func (t *Trader) runPair(pair string, info types.PairInfo, state types.State, balance map[string]decimal.Decimal, oneWeekAgo, twoSessionsAgo int64) {
	price, err := t.exch.LastPrice(info.Primary)
	if err != nil {
		t.log.Error("could not fetch price, skipping pair",
			logger.String("pair", pair), logger.Err(err))
		return
	}

	var atrSample *decimal.Decimal
	atr, err := t.exch.CurrentATR(pair)
	if err != nil {
		t.log.Warn("ATR unavailable, strategy floor applies",
			logger.String("pair", pair), logger.Err(err))
	} else {
		atrSample = &atr
	}

	atrText := "n/a"
	if atrSample != nil {
		atrText = atrSample.String()
	}
	t.log.Info("market sample",
		logger.String("pair", pair),
		logger.String("price", price.String()),
		logger.String("atr", atrText))

	if _, ok := state[pair]; !ok {
		state[pair] = types.PairState{}
	}
	pairState := state[pair]

	fills, err := t.exch.ClosedOrdersBetween(oneWeekAgo, twoSessionsAgo)
	if err != nil {
		t.log.Error("could not fetch closed orders",
			logger.String("pair", pair), logger.Err(err))
		fills = nil
	}

	t.engine.IngestFills(pair, pairState, fills, atrSample)
	t.engine.TickPair(pair, pairState, price, atrSample, balance)
	t.engine.UpdatePositionMetrics(pair, pairState)
}

// observeQuoteBalance exports the quote balance of the first resolved pair.
func (t *Trader) observeQuoteBalance(balance map[string]decimal.Decimal) {
	for _, pair := range t.cfg.Pairs {
		info, ok := t.pairs[pair]
		if !ok {
			continue
		}
		metrics.QuoteBalance.Set(balance[info.Quote].InexactFloat64())
		return
	}
}

// sleepCtx sleeps for d unless the context is cancelled first; it reports
// whether the full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
